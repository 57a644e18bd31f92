// Package store holds the persistent state of the router: processors,
// transactions, health metrics, and system logs. The default backend is an
// in-memory map store; a bbolt-backed store implements the same interface
// for durable single-process deployments.
package store

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/stratuspay/cascade/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrOrphanedMetric is returned when a health metric references an
	// unknown processor.
	ErrOrphanedMetric = errors.New("store: metric references unknown processor")
	// ErrDuplicate is returned when a create collides with an existing id.
	ErrDuplicate = errors.New("store: duplicate id")
)

// Store is the single storage interface the rest of the system depends on.
// Each method is atomic with respect to the rows it touches.
type Store interface {
	GetProcessor(ctx context.Context, id string) (model.Processor, error)
	GetAllProcessors(ctx context.Context) ([]model.Processor, error)
	GetActiveProcessors(ctx context.Context) ([]model.Processor, error)
	CreateProcessor(ctx context.Context, p model.Processor) error
	UpdateProcessor(ctx context.Context, id string, upd model.ProcessorUpdate) (model.Processor, error)

	CreateTransaction(ctx context.Context, t model.Transaction) error
	UpdateTransaction(ctx context.Context, id string, upd model.TransactionUpdate) (model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (model.Transaction, error)
	GetTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error)
	GetTotalTransactionCount(ctx context.Context) (int, error)

	CreateHealthMetric(ctx context.Context, m model.HealthMetric) error
	GetLatestHealthMetrics(ctx context.Context) ([]model.HealthMetric, error)

	CreateSystemLog(ctx context.Context, l model.SystemLog) error
	GetSystemLogs(ctx context.Context, limit int, level model.LogLevel) ([]model.SystemLog, error)

	GetSystemStats(ctx context.Context) (model.SystemStats, error)

	Close() error
}

// sortProcessors orders by (priority, id), the total order every listing
// observes.
func sortProcessors(ps []model.Processor) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority < ps[j].Priority
		}
		return ps[i].ID < ps[j].ID
	})
}

// filterActive keeps processors that are enabled with a closed circuit.
func filterActive(ps []model.Processor) []model.Processor {
	active := make([]model.Processor, 0, len(ps))
	for _, p := range ps {
		if p.Enabled && !p.CircuitBreakerOpen {
			active = append(active, p)
		}
	}
	return active
}

// applyProcessorUpdate merges a partial update into a processor row.
func applyProcessorUpdate(p *model.Processor, upd model.ProcessorUpdate) {
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		p.Priority = *upd.Priority
	}
	if upd.CircuitBreakerOpen != nil {
		p.CircuitBreakerOpen = *upd.CircuitBreakerOpen
	}
	if upd.ConsecutiveFailures != nil {
		p.ConsecutiveFailures = *upd.ConsecutiveFailures
	}
	if upd.LastFailureTime != nil {
		p.LastFailureTime = upd.LastFailureTime
	}
}

// applyTransactionUpdate merges a partial update into a transaction row.
// ProcessingTime never decreases once set.
func applyTransactionUpdate(t *model.Transaction, upd model.TransactionUpdate) {
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.ProcessorID != nil {
		t.ProcessorID = upd.ProcessorID
	}
	if upd.ProcessorTransactionID != nil {
		t.ProcessorTransactionID = upd.ProcessorTransactionID
	}
	if upd.FailureReason != nil {
		t.FailureReason = upd.FailureReason
	}
	if upd.ProcessingTime != nil {
		if t.ProcessingTime == nil || *upd.ProcessingTime >= *t.ProcessingTime {
			t.ProcessingTime = upd.ProcessingTime
		}
	}
	if upd.AttemptedProcessors != nil {
		t.AttemptedProcessors = append([]string(nil), upd.AttemptedProcessors...)
	}
}

// statsFrom computes the aggregate KPIs from full scans of both tables.
func statsFrom(txs []model.Transaction, procs []model.Processor) model.SystemStats {
	stats := model.SystemStats{TotalTransactions: len(txs)}

	succeeded := 0
	var totalTime, timed int64
	for _, t := range txs {
		if t.Status == model.StatusSuccess {
			succeeded++
		}
		if t.ProcessingTime != nil {
			totalTime += *t.ProcessingTime
			timed++
		}
	}
	if len(txs) > 0 {
		stats.SuccessRate = math.Round(float64(succeeded)/float64(len(txs))*1000) / 10
	}
	if timed > 0 {
		stats.AvgResponseTime = int(math.Round(float64(totalTime) / float64(timed)))
	}
	stats.ActiveProcessors = len(filterActive(procs))
	return stats
}

// cloneProcessor copies a row so callers never alias store-owned memory.
func cloneProcessor(p model.Processor) model.Processor {
	if p.Config != nil {
		cfg := make(map[string]string, len(p.Config))
		for k, v := range p.Config {
			cfg[k] = v
		}
		p.Config = cfg
	}
	if p.LastFailureTime != nil {
		t := *p.LastFailureTime
		p.LastFailureTime = &t
	}
	return p
}

func cloneTransaction(t model.Transaction) model.Transaction {
	t.AttemptedProcessors = append([]string(nil), t.AttemptedProcessors...)
	if t.Metadata != nil {
		md := make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	if t.ProcessorID != nil {
		v := *t.ProcessorID
		t.ProcessorID = &v
	}
	if t.ProcessorTransactionID != nil {
		v := *t.ProcessorTransactionID
		t.ProcessorTransactionID = &v
	}
	if t.FailureReason != nil {
		v := *t.FailureReason
		t.FailureReason = &v
	}
	if t.ProcessingTime != nil {
		v := *t.ProcessingTime
		t.ProcessingTime = &v
	}
	return t
}
