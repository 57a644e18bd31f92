// Package engine implements the payment waterfall: candidates are tried in
// priority order, the first success wins, and every outcome is recorded to
// the store, the breaker, and the health-metric table.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/adapter"
	"github.com/stratuspay/cascade/internal/breaker"
	"github.com/stratuspay/cascade/internal/metrics"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/priority"
	"github.com/stratuspay/cascade/internal/store"
)

// ErrValidation marks caller-fault input errors.
var ErrValidation = errors.New("invalid payment request")

const (
	reasonNoProcessors = "no payment processors available"
	reasonAllFailed    = "all payment processors failed"
)

// Engine routes payments across the configured processors.
type Engine struct {
	store       store.Store
	registry    *adapter.Registry
	breaker     *breaker.Breaker
	source      priority.Source
	log         zerolog.Logger
	metrics     *metrics.Metrics
	callTimeout time.Duration
}

// New wires an engine.
func New(st store.Store, reg *adapter.Registry, brk *breaker.Breaker, src priority.Source, log zerolog.Logger, m *metrics.Metrics, callTimeout time.Duration) *Engine {
	return &Engine{
		store:       st,
		registry:    reg,
		breaker:     brk,
		source:      src,
		log:         log.With().Str("service", "engine").Logger(),
		metrics:     m,
		callTimeout: callTimeout,
	}
}

// ProcessPayment executes one waterfall pass. A returned error means the
// payment never entered the waterfall (bad input or a storage failure while
// creating the pending transaction); every other outcome is expressed in
// the result.
func (e *Engine) ProcessPayment(ctx context.Context, req model.PaymentRequest) (model.PaymentResult, error) {
	amount, err := model.ParseAmount(req.Amount)
	if err != nil {
		return model.PaymentResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	tx := model.Transaction{
		ID:                  uuid.NewString(),
		Amount:              amount,
		Currency:            currency,
		Status:              model.StatusPending,
		AttemptedProcessors: []string{},
		Metadata:            req.Metadata,
		CreatedAt:           time.Now().UTC(),
	}
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		e.log.Error().Err(err).Str("transactionId", tx.ID).Msg("failed to create pending transaction")
		return model.PaymentResult{}, fmt.Errorf("create transaction: %w", err)
	}

	start := time.Now()
	result := e.route(ctx, &tx, start)
	result.TotalProcessingTime = time.Since(start).Milliseconds()

	status := "failed"
	if result.Success {
		status = "success"
	}
	if e.metrics != nil {
		e.metrics.PaymentsTotal.WithLabelValues(status).Inc()
	}
	return result, nil
}

// route walks the candidate list. Panics anywhere in the attempt path are
// contained here and finalize the transaction as a system error.
func (e *Engine) route(ctx context.Context, tx *model.Transaction, start time.Time) (result model.PaymentResult) {
	// admitted names the candidate currently past the breaker check, so a
	// panic mid-attempt still releases its half-open probe.
	var admitted string
	defer func() {
		if r := recover(); r != nil {
			if admitted != "" {
				e.breaker.ReleaseProbe(admitted)
			}
			e.log.Error().Str("transactionId", tx.ID).Any("panic", r).Msg("recovered panic during routing")
			result = e.finalizeFailure(ctx, tx, start, fmt.Sprintf("system error: %v", r))
			result.SystemError = true
		}
	}()

	candidates, err := e.source.GetPriorities(ctx)
	if err != nil {
		e.log.Error().Err(err).Str("transactionId", tx.ID).Msg("priority source failed")
		result = e.finalizeFailure(ctx, tx, start, fmt.Sprintf("system error: %v", err))
		result.SystemError = true
		return result
	}
	if len(candidates) == 0 {
		return e.finalizeFailure(ctx, tx, start, reasonNoProcessors)
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return e.finalizeDeadline(tx, start)
		}

		admissible, err := e.breaker.CheckProcessor(ctx, candidate.ProcessorID)
		if err != nil {
			e.log.Error().Err(err).Str("transactionId", tx.ID).
				Str("processorId", candidate.ProcessorID).Msg("breaker check failed")
			continue
		}
		if !admissible {
			e.log.Warn().Str("transactionId", tx.ID).
				Str("processorId", candidate.ProcessorID).Str("processor", candidate.Name).
				Msg("processor skipped: circuit open or disabled")
			continue
		}

		admitted = candidate.ProcessorID

		// Re-read the row: toggles and breaker updates mid-call must be
		// visible even though the candidate order is snapshotted.
		proc, err := e.store.GetProcessor(ctx, candidate.ProcessorID)
		if err != nil {
			e.log.Error().Err(err).Str("transactionId", tx.ID).
				Str("processorId", candidate.ProcessorID).Msg("processor lookup failed")
			e.breaker.ReleaseProbe(candidate.ProcessorID)
			admitted = ""
			continue
		}

		ad, ok := e.registry.Get(proc.Type)
		if !ok {
			// Misconfiguration, not a processor failure: no attempt is
			// recorded and the breaker is left alone.
			e.log.Error().Str("transactionId", tx.ID).Str("processorId", proc.ID).
				Str("type", proc.Type).Msg("no adapter registered for processor type")
			e.breaker.ReleaseProbe(candidate.ProcessorID)
			admitted = ""
			continue
		}

		tx.AttemptedProcessors = append(tx.AttemptedProcessors, proc.Name)
		if _, err := e.store.UpdateTransaction(ctx, tx.ID, model.TransactionUpdate{
			AttemptedProcessors: tx.AttemptedProcessors,
		}); err != nil {
			e.log.Error().Err(err).Str("transactionId", tx.ID).Msg("failed to record attempt")
		}

		res, callErr, elapsed := e.invoke(ctx, ad, tx)

		if callErr == nil && res.Success {
			if err := e.breaker.RecordSuccess(ctx, proc.ID); err != nil {
				e.log.Error().Err(err).Str("processorId", proc.ID).Msg("failed to record breaker success")
			}
			e.recordMetric(ctx, proc.ID, true, elapsed)
			e.observe(proc.Name, "success", elapsed)
			return e.finalizeSuccess(ctx, tx, start, proc, res)
		}

		// Decline or fault: counted by the breaker either way.
		if err := e.breaker.RecordFailure(ctx, proc.ID); err != nil {
			e.log.Error().Err(err).Str("processorId", proc.ID).Msg("failed to record breaker failure")
		}
		e.recordMetric(ctx, proc.ID, false, elapsed)

		if callErr != nil {
			e.observe(proc.Name, "error", elapsed)
			e.log.Error().Err(callErr).Str("transactionId", tx.ID).
				Str("processorId", proc.ID).Str("processor", proc.Name).
				Msg("adapter fault")
			if ctx.Err() != nil {
				return e.finalizeDeadline(tx, start)
			}
		} else {
			e.observe(proc.Name, "declined", elapsed)
			e.log.Warn().Str("transactionId", tx.ID).
				Str("processorId", proc.ID).Str("processor", proc.Name).
				Str("errorCode", res.ErrorCode).Str("errorMessage", res.ErrorMessage).
				Msg("processor declined payment")
		}
	}

	return e.finalizeFailure(ctx, tx, start, reasonAllFailed)
}

// invoke runs one adapter call under the per-call deadline.
func (e *Engine) invoke(ctx context.Context, ad adapter.Adapter, tx *model.Transaction) (adapter.ProcessResult, error, int64) {
	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := ad.ProcessPayment(callCtx, tx.Amount, tx.Currency, tx.Metadata)
	return res, err, time.Since(start).Milliseconds()
}

func (e *Engine) recordMetric(ctx context.Context, processorID string, success bool, elapsedMs int64) {
	m := model.HealthMetric{
		ID:                uuid.NewString(),
		ProcessorID:       processorID,
		Timestamp:         time.Now().UTC(),
		AvgResponseTime:   float64(elapsedMs),
		TotalTransactions: 1,
	}
	if success {
		m.SuccessCount = 1
	} else {
		m.FailureCount = 1
	}
	if err := e.store.CreateHealthMetric(ctx, m); err != nil {
		e.log.Error().Err(err).Str("processorId", processorID).Msg("failed to write health metric")
	}
}

func (e *Engine) observe(processor, outcome string, elapsedMs int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.AttemptsTotal.WithLabelValues(processor, outcome).Inc()
	e.metrics.AttemptDuration.WithLabelValues(processor).Observe(float64(elapsedMs) / 1000)
}

func (e *Engine) finalizeSuccess(ctx context.Context, tx *model.Transaction, start time.Time, proc model.Processor, res adapter.ProcessResult) model.PaymentResult {
	status := model.StatusSuccess
	elapsed := time.Since(start).Milliseconds()
	upd := model.TransactionUpdate{
		Status:                 &status,
		ProcessorID:            &proc.ID,
		ProcessorTransactionID: &res.TransactionID,
		ProcessingTime:         &elapsed,
		AttemptedProcessors:    tx.AttemptedProcessors,
	}
	final, err := e.store.UpdateTransaction(ctx, tx.ID, upd)
	if err != nil {
		// The in-memory result stands; the stored row is degraded.
		e.log.Error().Err(err).Str("transactionId", tx.ID).Msg("transaction finalization degraded")
		final = *tx
		final.Status = status
		final.ProcessorID = &proc.ID
		final.ProcessorTransactionID = &res.TransactionID
		final.ProcessingTime = &elapsed
	}
	e.log.Info().Str("transactionId", tx.ID).Str("processorId", proc.ID).
		Str("processor", proc.Name).Int64("processingTime", elapsed).
		Int("attempts", len(tx.AttemptedProcessors)).
		Msg("payment succeeded")
	return model.PaymentResult{
		Success:             true,
		Transaction:         &final,
		ProcessorUsed:       proc.Name,
		AttemptedProcessors: final.AttemptedProcessors,
	}
}

func (e *Engine) finalizeFailure(ctx context.Context, tx *model.Transaction, start time.Time, reason string) model.PaymentResult {
	status := model.StatusFailed
	elapsed := time.Since(start).Milliseconds()
	upd := model.TransactionUpdate{
		Status:              &status,
		FailureReason:       &reason,
		ProcessingTime:      &elapsed,
		AttemptedProcessors: tx.AttemptedProcessors,
	}
	final, err := e.store.UpdateTransaction(ctx, tx.ID, upd)
	if err != nil {
		e.log.Error().Err(err).Str("transactionId", tx.ID).Msg("transaction finalization degraded")
		final = *tx
		final.Status = status
		final.FailureReason = &reason
		final.ProcessingTime = &elapsed
	}
	e.log.Warn().Str("transactionId", tx.ID).Str("reason", reason).
		Int("attempts", len(tx.AttemptedProcessors)).
		Msg("payment failed")
	return model.PaymentResult{
		Success:             false,
		Transaction:         &final,
		AttemptedProcessors: final.AttemptedProcessors,
	}
}

func (e *Engine) finalizeDeadline(tx *model.Transaction, start time.Time) model.PaymentResult {
	reason := fmt.Sprintf("deadline exceeded after %d attempts", len(tx.AttemptedProcessors))
	// The caller's context is gone; finalize on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return e.finalizeFailure(ctx, tx, start, reason)
}
