// Package handler exposes the REST surface over the routing engine, the
// store, and the health aggregator.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stratuspay/cascade/internal/adapter"
	"github.com/stratuspay/cascade/internal/config"
	"github.com/stratuspay/cascade/internal/engine"
	"github.com/stratuspay/cascade/internal/health"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/priority"
	"github.com/stratuspay/cascade/internal/store"
	"github.com/stratuspay/cascade/internal/ws"
)

const (
	maxTransactionLimit     = 100
	defaultTransactionLimit = 20
	maxLogLimit             = 200
	defaultLogLimit         = 50
)

// Handler holds the HTTP dependencies.
type Handler struct {
	cfg      *config.Config
	engine   *engine.Engine
	store    store.Store
	registry *adapter.Registry
	agg      *health.Aggregator
	source   priority.Source
	hub      *ws.Hub
	log      zerolog.Logger
	validate *validator.Validate
	promReg  *prometheus.Registry
}

// New creates a Handler.
func New(cfg *config.Config, eng *engine.Engine, st store.Store, reg *adapter.Registry, agg *health.Aggregator, src priority.Source, hub *ws.Hub, log zerolog.Logger, promReg *prometheus.Registry) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := model.ParseAmount(fl.Field().String())
		return err == nil
	})
	return &Handler{
		cfg:      cfg,
		engine:   eng,
		store:    st,
		registry: reg,
		agg:      agg,
		source:   src,
		hub:      hub,
		log:      log.With().Str("service", "http").Logger(),
		validate: v,
		promReg:  promReg,
	}
}

// Router builds the chi router with middleware and all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if len(h.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.With(httprate.LimitByIP(h.cfg.PaymentRateLimit, h.cfg.PaymentRateWindow)).
			Post("/payments", h.ProcessPayment)
		r.Get("/payments/{id}", h.GetPayment)
		r.Get("/processors", h.ListProcessors)
		r.Post("/processors/{id}/toggle", h.ToggleProcessor)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/health-check", h.RunHealthChecks)
		r.Get("/metrics", h.GetMetrics)
		r.Get("/priorities", h.GetPriorities)
		r.Get("/logs", h.GetLogs)
	})
	r.Get("/ws", ws.Handler(h.hub, h.cfg.AllowedOrigins))
	if h.promReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.promReg, promhttp.HandlerOpts{}))
	}
	return r
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := h.agg.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build health snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ProcessPayment handles POST /api/payments.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.log.Warn().Err(err).Msg("payment request rejected")
		writeError(w, http.StatusBadRequest, "invalid payment request: "+err.Error())
		return
	}

	result, err := h.engine.ProcessPayment(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "payment processing unavailable")
		return
	}

	tx := result.Transaction
	if result.Success {
		writeJSON(w, http.StatusCreated, map[string]any{
			"success":        true,
			"transactionId":  tx.ID,
			"amount":         tx.Amount,
			"currency":       tx.Currency,
			"status":         tx.Status,
			"processorUsed":  result.ProcessorUsed,
			"processingTime": result.TotalProcessingTime,
			"createdAt":      tx.CreatedAt,
		})
		return
	}

	details := ""
	if tx.FailureReason != nil {
		details = *tx.FailureReason
	}
	if result.SystemError {
		// An internal fault, not a decline: the caller must not read this
		// as "all processors said no".
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":       false,
			"transactionId": tx.ID,
			"error":         "Internal server error",
			"details":       details,
		})
		return
	}
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"success":             false,
		"transactionId":       tx.ID,
		"error":               "Payment processing failed",
		"details":             details,
		"attemptedProcessors": result.AttemptedProcessors,
		"processingTime":      result.TotalProcessingTime,
	})
}

// GetPayment handles GET /api/payments/{id}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "transaction lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListProcessors handles GET /api/processors.
func (h *Handler) ListProcessors(w http.ResponseWriter, r *http.Request) {
	ps, err := h.store.GetAllProcessors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processor listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": ps})
}

// ToggleProcessor handles POST /api/processors/{id}/toggle.
func (h *Handler) ToggleProcessor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.store.GetProcessor(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "processor not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "processor lookup failed")
		return
	}
	enabled := !p.Enabled
	updated, err := h.store.UpdateProcessor(r.Context(), id, model.ProcessorUpdate{Enabled: &enabled})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processor update failed")
		return
	}
	h.log.Info().Str("processorId", id).Bool("enabled", enabled).Msg("processor toggled")
	writeJSON(w, http.StatusOK, updated)
}

// ListTransactions handles GET /api/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultTransactionLimit)
	if limit < 1 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	txs, err := h.store.GetTransactions(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transaction listing failed")
		return
	}
	total, err := h.store.GetTotalTransactionCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transaction listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// RunHealthChecks handles POST /api/health-check: live adapter probes.
func (h *Handler) RunHealthChecks(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()
	results := make(map[string]adapter.HealthResult, len(types))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(r.Context())
	for _, typ := range types {
		typ := typ
		g.Go(func() error {
			ad, ok := h.registry.Get(typ)
			if !ok {
				return nil
			}
			res := ad.HealthCheck(ctx)
			mu.Lock()
			results[typ] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, "health checks failed")
		return
	}

	healthy := true
	for _, res := range results {
		if !res.Healthy {
			healthy = false
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":    healthy,
		"processors": results,
	})
}

// GetMetrics handles GET /api/metrics: KPIs, recent transactions, and
// processor states as one JSON document.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetSystemStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	txs, err := h.store.GetTransactions(r.Context(), 10, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	ps, err := h.store.GetAllProcessors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":              stats,
		"recentTransactions": txs,
		"processors":         ps,
	})
}

// GetPriorities handles GET /api/priorities.
func (h *Handler) GetPriorities(w http.ResponseWriter, r *http.Request) {
	entries, err := h.source.GetPriorities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "priority source failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"priorities": entries,
		"source":     h.source.Status(),
	})
}

// GetLogs handles GET /api/logs.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLogLimit)
	if limit < 1 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	var level model.LogLevel
	if v := r.URL.Query().Get("level"); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			level = model.LogLevel(v)
		default:
			writeError(w, http.StatusBadRequest, "invalid level: "+v)
			return
		}
	}
	logs, err := h.store.GetSystemLogs(r.Context(), limit, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "log listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "limit": limit})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Msg("request served")
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
