// Package health composes the system snapshot served by the health
// endpoint and pushed to subscribers. The aggregator is a pure reader.
package health

import (
	"context"
	"time"

	"github.com/stratuspay/cascade/internal/breaker"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/priority"
	"github.com/stratuspay/cascade/internal/store"
)

// ProcessorHealth is one processor's line in the snapshot.
type ProcessorHealth struct {
	Name               string  `json:"name"`
	Enabled            bool    `json:"enabled"`
	CircuitBreakerOpen bool    `json:"circuitBreakerOpen"`
	SuccessRate        float64 `json:"successRate"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
}

// Snapshot is the aggregated system view.
type Snapshot struct {
	Status          string                `json:"status"`
	UptimeSeconds   int64                 `json:"uptime"`
	Timestamp       time.Time             `json:"timestamp"`
	Processors      []ProcessorHealth     `json:"processors"`
	CircuitBreakers []model.CircuitStatus `json:"circuitBreakers"`
	Stats           model.SystemStats     `json:"stats"`
	PrioritySource  priority.Status       `json:"prioritySource"`
}

// Aggregator builds snapshots from the store, the breaker, and the
// priority source.
type Aggregator struct {
	store   store.Store
	breaker *breaker.Breaker
	source  priority.Source
	started time.Time
}

// New creates an aggregator; uptime counts from now.
func New(st store.Store, brk *breaker.Breaker, src priority.Source) *Aggregator {
	return &Aggregator{store: st, breaker: brk, source: src, started: time.Now()}
}

// Snapshot assembles the current system view.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	procs, err := a.store.GetAllProcessors(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	circuits, err := a.breaker.Status(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	stats, err := a.store.GetSystemStats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	latest, err := a.store.GetLatestHealthMetrics(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	observed := make(map[string]float64, len(latest))
	for _, m := range latest {
		observed[m.ProcessorID] = m.AvgResponseTime
	}

	ph := make([]ProcessorHealth, 0, len(procs))
	for _, p := range procs {
		avg := float64(p.ResponseTime)
		if v, ok := observed[p.ID]; ok {
			avg = v
		}
		ph = append(ph, ProcessorHealth{
			Name:               p.Name,
			Enabled:            p.Enabled,
			CircuitBreakerOpen: p.CircuitBreakerOpen,
			SuccessRate:        p.SuccessRate,
			AvgResponseTime:    avg,
		})
	}

	status := "degraded"
	if stats.ActiveProcessors > 0 {
		status = "healthy"
	}

	return Snapshot{
		Status:          status,
		UptimeSeconds:   int64(time.Since(a.started).Seconds()),
		Timestamp:       time.Now().UTC(),
		Processors:      ph,
		CircuitBreakers: circuits,
		Stats:           stats,
		PrioritySource:  a.source.Status(),
	}, nil
}
