// Package adapter defines the uniform contract for payment backends and the
// registry that owns their instances. The engine selects adapters by the
// processor's type string and never introspects their identity.
package adapter

import (
	"context"

	"github.com/stratuspay/cascade/internal/model"
)

// ProcessResult is the outcome of a single authorization attempt.
// TransactionID is set iff Success; ErrorMessage and ErrorCode iff not.
type ProcessResult struct {
	Success        bool   `json:"success"`
	TransactionID  string `json:"transactionId,omitempty"`
	ProcessingTime int64  `json:"processingTime"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
}

// HealthResult is the outcome of a live health probe.
type HealthResult struct {
	Healthy      bool   `json:"healthy"`
	ResponseTime int64  `json:"responseTime"`
	Error        string `json:"error,omitempty"`
}

// Adapter is the capability set a payment backend must implement.
type Adapter interface {
	// Type returns the processor type string this adapter serves.
	Type() string
	// ProcessPayment attempts one authorization. A returned error means the
	// adapter itself faulted; a declined payment is Success=false with nil
	// error.
	ProcessPayment(ctx context.Context, amount model.Amount, currency string, metadata map[string]any) (ProcessResult, error)
	// HealthCheck probes the backend.
	HealthCheck(ctx context.Context) HealthResult
	// Close releases the adapter's clients.
	Close() error
}
