package ws

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/health"
	"github.com/stratuspay/cascade/internal/store"
)

// transactionsPageSize is the slice of recent transactions pushed per tick.
const transactionsPageSize = 10

// Publisher drives the hub: every tick it broadcasts a metrics frame, a
// transactions page, and a health snapshot.
type Publisher struct {
	hub      *Hub
	store    store.Store
	agg      *health.Aggregator
	interval time.Duration
	log      zerolog.Logger
}

// NewPublisher creates a publisher; call Run to start ticking.
func NewPublisher(hub *Hub, st store.Store, agg *health.Aggregator, interval time.Duration, log zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{
		hub:      hub,
		store:    st,
		agg:      agg,
		interval: interval,
		log:      log.With().Str("service", "ws").Logger(),
	}
}

// Run broadcasts until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publish(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	if stats, err := p.store.GetSystemStats(ctx); err != nil {
		p.log.Error().Err(err).Msg("metrics frame skipped")
	} else {
		latest, err := p.store.GetLatestHealthMetrics(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("metrics frame skipped")
		} else {
			p.hub.Broadcast(Message{Type: "metrics", Data: map[string]any{
				"stats":      stats,
				"processors": latest,
			}})
		}
	}

	if txs, err := p.store.GetTransactions(ctx, transactionsPageSize, 0); err != nil {
		p.log.Error().Err(err).Msg("transactions frame skipped")
	} else {
		total, _ := p.store.GetTotalTransactionCount(ctx)
		p.hub.Broadcast(Message{Type: "transactions", Data: map[string]any{
			"transactions": txs,
			"total":        total,
			"limit":        transactionsPageSize,
			"offset":       0,
		}})
	}

	if snap, err := p.agg.Snapshot(ctx); err != nil {
		p.log.Error().Err(err).Msg("health frame skipped")
	} else {
		p.hub.Broadcast(Message{Type: "health", Data: snap})
	}
}
