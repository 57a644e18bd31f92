package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratuspay/cascade/internal/model"
)

// Memory is the default map-backed store, guarded by a single RWMutex.
type Memory struct {
	mu         sync.RWMutex
	processors map[string]model.Processor
	txs        map[string]model.Transaction
	txOrder    []string // ids in creation order, oldest first
	metrics    []model.HealthMetric
	logs       []model.SystemLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		processors: make(map[string]model.Processor),
		txs:        make(map[string]model.Transaction),
	}
}

func (s *Memory) GetProcessor(_ context.Context, id string) (model.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processors[id]
	if !ok {
		return model.Processor{}, ErrNotFound
	}
	return cloneProcessor(p), nil
}

func (s *Memory) GetAllProcessors(_ context.Context) ([]model.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allProcessorsLocked(), nil
}

func (s *Memory) GetActiveProcessors(_ context.Context) ([]model.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterActive(s.allProcessorsLocked()), nil
}

func (s *Memory) allProcessorsLocked() []model.Processor {
	ps := make([]model.Processor, 0, len(s.processors))
	for _, p := range s.processors {
		ps = append(ps, cloneProcessor(p))
	}
	sortProcessors(ps)
	return ps
}

func (s *Memory) CreateProcessor(_ context.Context, p model.Processor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.processors[p.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.processors[p.ID] = cloneProcessor(p)
	return nil
}

func (s *Memory) UpdateProcessor(_ context.Context, id string, upd model.ProcessorUpdate) (model.Processor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processors[id]
	if !ok {
		return model.Processor{}, ErrNotFound
	}
	applyProcessorUpdate(&p, upd)
	p.UpdatedAt = time.Now().UTC()
	s.processors[id] = p
	return cloneProcessor(p), nil
}

func (s *Memory) CreateTransaction(_ context.Context, t model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[t.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.txs[t.ID] = cloneTransaction(t)
	s.txOrder = append(s.txOrder, t.ID)
	return nil
}

func (s *Memory) UpdateTransaction(_ context.Context, id string, upd model.TransactionUpdate) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return model.Transaction{}, ErrNotFound
	}
	applyTransactionUpdate(&t, upd)
	t.UpdatedAt = time.Now().UTC()
	s.txs[id] = t
	return cloneTransaction(t), nil
}

func (s *Memory) GetTransaction(_ context.Context, id string) (model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return model.Transaction{}, ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (s *Memory) GetTransactions(_ context.Context, limit, offset int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || offset < 0 || offset >= len(s.txOrder) {
		return []model.Transaction{}, nil
	}
	// txOrder is oldest-first; walk it backwards for createdAt DESC.
	out := make([]model.Transaction, 0, limit)
	for i := len(s.txOrder) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneTransaction(s.txs[s.txOrder[i]]))
	}
	return out, nil
}

func (s *Memory) GetTotalTransactionCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs), nil
}

func (s *Memory) CreateHealthMetric(_ context.Context, m model.HealthMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processors[m.ProcessorID]; !ok {
		return ErrOrphanedMetric
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *Memory) GetLatestHealthMetrics(_ context.Context) ([]model.HealthMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]model.HealthMetric)
	for _, m := range s.metrics {
		cur, ok := latest[m.ProcessorID]
		if !ok || m.Timestamp.After(cur.Timestamp) {
			latest[m.ProcessorID] = m
		}
	}
	out := make([]model.HealthMetric, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorID < out[j].ProcessorID })
	return out, nil
}

func (s *Memory) CreateSystemLog(_ context.Context, l model.SystemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	s.logs = append(s.logs, l)
	return nil
}

func (s *Memory) GetSystemLogs(_ context.Context, limit int, level model.LogLevel) ([]model.SystemLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SystemLog, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if level != "" && s.logs[i].Level != level {
			continue
		}
		out = append(out, s.logs[i])
	}
	return out, nil
}

func (s *Memory) GetSystemStats(_ context.Context) (model.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := make([]model.Transaction, 0, len(s.txs))
	for _, t := range s.txs {
		txs = append(txs, t)
	}
	procs := make([]model.Processor, 0, len(s.processors))
	for _, p := range s.processors {
		procs = append(procs, p)
	}
	return statsFrom(txs, procs), nil
}

func (s *Memory) Close() error { return nil }
