package adapter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/stratuspay/cascade/internal/model"
)

// Behavior controls a simulated backend.
type Behavior struct {
	// SuccessRate is the approval probability in percent (0-100).
	SuccessRate float64
	// MinLatency and MaxLatency bound the simulated round trip.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// simulator is the shared core of all simulated adapters. Each typed
// adapter wraps it with its own credential shape and transaction-id format.
type simulator struct {
	typ      string
	idPrefix string

	mu       sync.Mutex
	rng      *mrand.Rand
	behavior Behavior
	failAll  bool
}

func newSimulator(typ, idPrefix string, b Behavior) *simulator {
	if b.MaxLatency < b.MinLatency {
		b.MaxLatency = b.MinLatency
	}
	return &simulator{
		typ:      typ,
		idPrefix: idPrefix,
		rng:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
		behavior: b,
	}
}

func (s *simulator) Type() string { return s.typ }

// SetFailAll forces every subsequent attempt to decline. Used by tests and
// by operators exercising the breaker.
func (s *simulator) SetFailAll(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = fail
}

func (s *simulator) roll() (latency time.Duration, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latency = s.behavior.MinLatency
	if span := s.behavior.MaxLatency - s.behavior.MinLatency; span > 0 {
		latency += time.Duration(s.rng.Int63n(int64(span)))
	}
	if s.failAll {
		return latency, false
	}
	return latency, s.rng.Float64()*100 < s.behavior.SuccessRate
}

func (s *simulator) ProcessPayment(ctx context.Context, amount model.Amount, currency string, _ map[string]any) (ProcessResult, error) {
	start := time.Now()
	latency, approved := s.roll()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return ProcessResult{}, fmt.Errorf("%s: %w", s.typ, ctx.Err())
	}

	elapsed := time.Since(start).Milliseconds()
	if !approved {
		return ProcessResult{
			Success:        false,
			ProcessingTime: elapsed,
			ErrorMessage:   fmt.Sprintf("payment of %s %s declined", amount, currency),
			ErrorCode:      "card_declined",
		}, nil
	}
	return ProcessResult{
		Success:        true,
		TransactionID:  s.idPrefix + randomHex(12),
		ProcessingTime: elapsed,
	}, nil
}

func (s *simulator) HealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	latency, _ := s.roll()
	// Probes answer faster than authorizations.
	latency /= 4

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return HealthResult{
			Healthy:      false,
			ResponseTime: time.Since(start).Milliseconds(),
			Error:        ctx.Err().Error(),
		}
	}

	s.mu.Lock()
	failing := s.failAll
	s.mu.Unlock()
	res := HealthResult{Healthy: !failing, ResponseTime: time.Since(start).Milliseconds()}
	if failing {
		res.Error = "backend reporting failures"
	}
	return res
}

func (s *simulator) Close() error { return nil }

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Stripe simulates a Stripe-style backend authenticated by an API key.
type Stripe struct {
	*simulator
	apiKey string
}

func NewStripe(apiKey string, b Behavior) *Stripe {
	return &Stripe{simulator: newSimulator("stripe", "ch_", b), apiKey: apiKey}
}

// Paypal simulates a PayPal-style backend authenticated by a client id.
type Paypal struct {
	*simulator
	clientID string
}

func NewPaypal(clientID string, b Behavior) *Paypal {
	return &Paypal{simulator: newSimulator("paypal", "PAYID-", b), clientID: clientID}
}

// Square simulates a Square-style backend authenticated by an app id.
type Square struct {
	*simulator
	appID string
}

func NewSquare(appID string, b Behavior) *Square {
	return &Square{simulator: newSimulator("square", "sq_", b), appID: appID}
}

// Adyen simulates an Adyen-style backend authenticated by a merchant
// account and API key.
type Adyen struct {
	*simulator
	merchantAccount string
	apiKey          string
}

func NewAdyen(merchantAccount, apiKey string, b Behavior) *Adyen {
	return &Adyen{
		simulator:       newSimulator("adyen", "psp_", b),
		merchantAccount: merchantAccount,
		apiKey:          apiKey,
	}
}
