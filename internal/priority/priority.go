// Package priority supplies the ordered candidate list the engine routes
// over. The local source reads the processor table; the oracle source asks
// an external system and falls back to a static list when it misbehaves.
package priority

import (
	"context"

	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/store"
)

// Status describes a source for the health snapshot.
type Status struct {
	Kind           string `json:"kind"`
	FallbackActive bool   `json:"fallbackActive"`
	LastError      string `json:"lastError,omitempty"`
}

// Source yields enabled processors in ascending priority order. The engine
// treats whichever list it gets as authoritative for one routing pass.
type Source interface {
	GetPriorities(ctx context.Context) ([]model.PriorityEntry, error)
	Status() Status
}

// Local reads priorities straight from the store's processor table.
type Local struct {
	store store.Store
}

// NewLocal creates a store-backed source.
func NewLocal(st store.Store) *Local {
	return &Local{store: st}
}

func (l *Local) GetPriorities(ctx context.Context) ([]model.PriorityEntry, error) {
	ps, err := l.store.GetAllProcessors(ctx)
	if err != nil {
		return nil, err
	}
	// Rows arrive sorted by (priority, id); keep only enabled ones.
	entries := make([]model.PriorityEntry, 0, len(ps))
	for _, p := range ps {
		if !p.Enabled {
			continue
		}
		entries = append(entries, model.PriorityEntry{
			ProcessorID: p.ID,
			Name:        p.Name,
			Priority:    p.Priority,
			Enabled:     p.Enabled,
		})
	}
	return entries, nil
}

func (l *Local) Status() Status {
	return Status{Kind: "local"}
}
