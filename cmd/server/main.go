package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/adapter"
	"github.com/stratuspay/cascade/internal/breaker"
	"github.com/stratuspay/cascade/internal/config"
	"github.com/stratuspay/cascade/internal/engine"
	"github.com/stratuspay/cascade/internal/handler"
	"github.com/stratuspay/cascade/internal/health"
	"github.com/stratuspay/cascade/internal/logging"
	"github.com/stratuspay/cascade/internal/metrics"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/priority"
	"github.com/stratuspay/cascade/internal/store"
	"github.com/stratuspay/cascade/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var st store.Store
	switch cfg.StoreBackend {
	case "bolt":
		st, err = store.NewBolt(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	default:
		st = store.NewMemory()
	}
	defer st.Close()

	storeWriter := logging.NewStoreWriter(st, 256)
	defer storeWriter.Close()
	log := logging.New(cfg.LogLevel, zerolog.MultiLevelWriter(os.Stdout, storeWriter))

	processors, err := store.Seed(context.Background(), st)
	if err != nil {
		return fmt.Errorf("seed processors: %w", err)
	}
	log.Info().Int("processors", len(processors)).Str("store", cfg.StoreBackend).
		Msg("state store ready")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	registry := adapter.NewRegistry(processors, cfg.Credentials)
	defer registry.Close()

	brk := breaker.New(st, log, m, cfg.FailureThreshold, cfg.ResetTimeout)

	var source priority.Source
	if cfg.PriorityOracleURL != "" {
		fallback := make([]model.PriorityEntry, 0, len(processors))
		for _, p := range processors {
			fallback = append(fallback, model.PriorityEntry{
				ProcessorID: p.ID,
				Name:        p.Name,
				Priority:    p.Priority,
				Enabled:     p.Enabled,
			})
		}
		source = priority.NewOracle(cfg.PriorityOracleURL, fallback, log)
	} else {
		source = priority.NewLocal(st)
	}

	eng := engine.New(st, registry, brk, source, log, m, cfg.AdapterCallTimeout)
	agg := health.New(st, brk, source)

	hub := ws.NewHub(log, m)
	go hub.Run()
	defer hub.Stop()

	pubCtx, cancelPublisher := context.WithCancel(context.Background())
	defer cancelPublisher()
	go ws.NewPublisher(hub, st, agg, cfg.BroadcastInterval, log).Run(pubCtx)

	h := handler.New(cfg, eng, st, registry, agg, source, hub, log, promReg)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
