// Package breaker guards each processor with a consecutive-failure circuit
// breaker. The breaker's state (open flag, failure counter, last failure
// time) lives on the processor rows in the store so every reader observes
// a consistent pair.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/metrics"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/store"
)

// Breaker tracks per-processor failures and admission.
type Breaker struct {
	store            store.Store
	log              zerolog.Logger
	metrics          *metrics.Metrics
	failureThreshold int
	resetTimeout     time.Duration

	// now is swapped by tests to drive the cooldown clock.
	now func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	halfOpen map[string]bool
}

// New creates a breaker over the given store.
func New(st store.Store, log zerolog.Logger, m *metrics.Metrics, failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		store:            st,
		log:              log.With().Str("service", "breaker").Logger(),
		metrics:          m,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		locks:            make(map[string]*sync.Mutex),
		halfOpen:         make(map[string]bool),
	}
}

func (b *Breaker) lockFor(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

func (b *Breaker) setHalfOpen(id string, probing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probing {
		b.halfOpen[id] = true
	} else {
		delete(b.halfOpen, id)
	}
}

func (b *Breaker) isHalfOpen(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halfOpen[id]
}

// CheckProcessor reports whether the processor may be tried. A disabled
// processor is treated like an open circuit. An open circuit whose cooldown
// has elapsed transitions to half-open: the counters are reset speculatively
// and the current call is admitted as the probe.
func (b *Breaker) CheckProcessor(ctx context.Context, id string) (bool, error) {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := b.store.GetProcessor(ctx, id)
	if err != nil {
		return false, err
	}
	if !p.Enabled {
		return false, nil
	}
	if !p.CircuitBreakerOpen {
		return true, nil
	}
	if p.LastFailureTime != nil && b.now().Sub(*p.LastFailureTime) >= b.resetTimeout {
		closed := false
		zero := 0
		if _, err := b.store.UpdateProcessor(ctx, id, model.ProcessorUpdate{
			CircuitBreakerOpen:  &closed,
			ConsecutiveFailures: &zero,
		}); err != nil {
			return false, err
		}
		b.setHalfOpen(id, true)
		b.gauge(p.Name, false)
		b.log.Info().Str("processorId", id).Str("processor", p.Name).
			Msg("circuit breaker half-open, admitting probe")
		return true, nil
	}
	return false, nil
}

// RecordSuccess closes the circuit and clears the failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, id string) error {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	closed := false
	zero := 0
	p, err := b.store.UpdateProcessor(ctx, id, model.ProcessorUpdate{
		CircuitBreakerOpen:  &closed,
		ConsecutiveFailures: &zero,
	})
	if err != nil {
		return err
	}
	b.setHalfOpen(id, false)
	b.gauge(p.Name, false)
	return nil
}

// RecordFailure increments the failure counter, stamps the failure time,
// and opens the circuit once the threshold is reached. A failed half-open
// probe re-opens immediately.
func (b *Breaker) RecordFailure(ctx context.Context, id string) error {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := b.store.GetProcessor(ctx, id)
	if err != nil {
		return err
	}

	failures := p.ConsecutiveFailures + 1
	now := b.now().UTC()
	open := p.CircuitBreakerOpen || failures >= b.failureThreshold || b.isHalfOpen(id)
	upd := model.ProcessorUpdate{
		ConsecutiveFailures: &failures,
		LastFailureTime:     &now,
		CircuitBreakerOpen:  &open,
	}
	if _, err := b.store.UpdateProcessor(ctx, id, upd); err != nil {
		return err
	}
	b.setHalfOpen(id, false)
	b.gauge(p.Name, open)

	if open && !p.CircuitBreakerOpen {
		b.log.Warn().Str("processorId", id).Str("processor", p.Name).
			Int("consecutiveFailures", failures).
			Msg("circuit breaker opened")
	}
	return nil
}

// ReleaseProbe clears an admitted probe that never reached an adapter, so
// a later failure counts against the threshold instead of force-reopening.
// No-op when no probe is in flight.
func (b *Breaker) ReleaseProbe(id string) {
	b.setHalfOpen(id, false)
}

// Status returns the breaker view of every processor.
func (b *Breaker) Status(ctx context.Context) ([]model.CircuitStatus, error) {
	ps, err := b.store.GetAllProcessors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CircuitStatus, 0, len(ps))
	for _, p := range ps {
		out = append(out, model.CircuitStatus{
			ID:                  p.ID,
			Name:                p.Name,
			IsOpen:              p.CircuitBreakerOpen,
			ConsecutiveFailures: p.ConsecutiveFailures,
		})
	}
	return out, nil
}

func (b *Breaker) gauge(processor string, open bool) {
	if b.metrics == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	b.metrics.CircuitOpen.WithLabelValues(processor).Set(v)
}

// SetClock overrides the breaker's clock. Tests only.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }
