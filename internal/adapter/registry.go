package adapter

import (
	"errors"
	"sync"
	"time"

	"github.com/stratuspay/cascade/internal/config"
	"github.com/stratuspay/cascade/internal/model"
)

// Registry maps processor type strings to adapter instances. It is built
// once at startup from the configured processors and owns the adapters'
// lifecycles until Close.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs one adapter per distinct processor type. The
// processor row's declared baselines seed the simulated behavior; credential
// bags come from the environment.
func NewRegistry(processors []model.Processor, creds config.AdapterCredentials) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, p := range processors {
		if _, exists := r.adapters[p.Type]; exists {
			continue
		}
		b := behaviorFor(p)
		switch p.Type {
		case "stripe":
			r.adapters[p.Type] = NewStripe(creds.StripeAPIKey, b)
		case "paypal":
			r.adapters[p.Type] = NewPaypal(creds.PaypalClientID, b)
		case "square":
			r.adapters[p.Type] = NewSquare(creds.SquareAppID, b)
		case "adyen":
			r.adapters[p.Type] = NewAdyen(creds.AdyenMerchantAccount, creds.AdyenAPIKey, b)
		}
		// Unknown types stay unmapped; the engine reports them as a
		// configuration error per candidate without poisoning routing.
	}
	return r
}

func behaviorFor(p model.Processor) Behavior {
	base := time.Duration(p.ResponseTime) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return Behavior{
		SuccessRate: p.SuccessRate,
		MinLatency:  base / 2,
		MaxLatency:  base * 3 / 2,
	}
}

// Register adds or replaces an adapter. Mostly used by tests to install
// scripted backends.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a processor type.
func (r *Registry) Get(typ string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[typ]
	return a, ok
}

// Types lists the registered processor types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

// Close releases every adapter's clients.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
