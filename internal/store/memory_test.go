package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/cascade/internal/model"
)

func newProcessor(id, name string, priority int) model.Processor {
	return model.Processor{
		ID:           id,
		Name:         name,
		Type:         "stripe",
		Priority:     priority,
		Enabled:      true,
		SuccessRate:  95,
		ResponseTime: 100,
	}
}

func seedProcessors(t *testing.T, s Store, ps ...model.Processor) {
	t.Helper()
	for _, p := range ps {
		require.NoError(t, s.CreateProcessor(context.Background(), p))
	}
}

func TestMemoryProcessorOrdering(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedProcessors(t, s,
		newProcessor("p-b", "Beta", 2),
		newProcessor("p-c", "Gamma", 1),
		newProcessor("p-a", "Alpha", 2),
	)

	all, err := s.GetAllProcessors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Sorted by priority, ties broken by id.
	assert.Equal(t, []string{"p-c", "p-a", "p-b"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestMemoryActiveProcessorsFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedProcessors(t, s,
		newProcessor("p-1", "One", 1),
		newProcessor("p-2", "Two", 2),
		newProcessor("p-3", "Three", 3),
	)

	disabled := false
	_, err := s.UpdateProcessor(ctx, "p-2", model.ProcessorUpdate{Enabled: &disabled})
	require.NoError(t, err)
	open := true
	_, err = s.UpdateProcessor(ctx, "p-3", model.ProcessorUpdate{CircuitBreakerOpen: &open})
	require.NoError(t, err)

	active, err := s.GetActiveProcessors(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p-1", active[0].ID)

	// Active equals all filtered by enabled && circuit closed, same order.
	all, err := s.GetAllProcessors(ctx)
	require.NoError(t, err)
	want := make([]model.Processor, 0)
	for _, p := range all {
		if p.Enabled && !p.CircuitBreakerOpen {
			want = append(want, p)
		}
	}
	assert.Equal(t, want, active)
}

func TestMemoryProcessorNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.GetProcessor(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateProcessor(context.Background(), "nope", model.ProcessorUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransactionRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	tx := model.Transaction{
		ID:                  "tx-1",
		Amount:              1000,
		Currency:            "USD",
		Status:              model.StatusPending,
		AttemptedProcessors: []string{},
	}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	status := model.StatusSuccess
	procID := "p-1"
	procTxID := "ch_abc"
	elapsed := int64(250)
	updated, err := s.UpdateTransaction(ctx, "tx-1", model.TransactionUpdate{
		Status:                 &status,
		ProcessorID:            &procID,
		ProcessorTransactionID: &procTxID,
		ProcessingTime:         &elapsed,
		AttemptedProcessors:    []string{"Stripe Primary"},
	})
	require.NoError(t, err)

	fetched, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, updated.Status, fetched.Status)
	require.NotNil(t, fetched.ProcessorID)
	assert.Equal(t, "p-1", *fetched.ProcessorID)
	require.NotNil(t, fetched.ProcessorTransactionID)
	assert.Equal(t, "ch_abc", *fetched.ProcessorTransactionID)
	require.NotNil(t, fetched.ProcessingTime)
	assert.Equal(t, int64(250), *fetched.ProcessingTime)
	assert.Equal(t, []string{"Stripe Primary"}, fetched.AttemptedProcessors)
}

func TestMemoryProcessingTimeNeverDecreases(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateTransaction(ctx, model.Transaction{ID: "tx-1", Amount: 100, Currency: "USD", Status: model.StatusPending}))

	first := int64(500)
	_, err := s.UpdateTransaction(ctx, "tx-1", model.TransactionUpdate{ProcessingTime: &first})
	require.NoError(t, err)

	smaller := int64(100)
	updated, err := s.UpdateTransaction(ctx, "tx-1", model.TransactionUpdate{ProcessingTime: &smaller})
	require.NoError(t, err)
	require.NotNil(t, updated.ProcessingTime)
	assert.Equal(t, int64(500), *updated.ProcessingTime)
}

func TestMemoryTransactionPagination(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateTransaction(ctx, model.Transaction{
			ID:       fmt.Sprintf("tx-%d", i),
			Amount:   100,
			Currency: "USD",
			Status:   model.StatusPending,
		}))
	}

	page, err := s.GetTransactions(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest first.
	assert.Equal(t, "tx-4", page[0].ID)
	assert.Equal(t, "tx-3", page[1].ID)

	page, err = s.GetTransactions(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tx-1", page[0].ID)
	assert.Equal(t, "tx-0", page[1].ID)

	page, err = s.GetTransactions(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, page)

	total, err := s.GetTotalTransactionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestMemoryHealthMetricRejectsOrphan(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	err := s.CreateHealthMetric(ctx, model.HealthMetric{ID: "m-1", ProcessorID: "ghost"})
	assert.ErrorIs(t, err, ErrOrphanedMetric)
}

func TestMemoryLatestHealthMetrics(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedProcessors(t, s, newProcessor("p-1", "One", 1), newProcessor("p-2", "Two", 2))

	base := time.Now().UTC()
	require.NoError(t, s.CreateHealthMetric(ctx, model.HealthMetric{ID: "m-1", ProcessorID: "p-1", Timestamp: base, AvgResponseTime: 100}))
	require.NoError(t, s.CreateHealthMetric(ctx, model.HealthMetric{ID: "m-2", ProcessorID: "p-1", Timestamp: base.Add(time.Second), AvgResponseTime: 200}))
	require.NoError(t, s.CreateHealthMetric(ctx, model.HealthMetric{ID: "m-3", ProcessorID: "p-2", Timestamp: base, AvgResponseTime: 300}))

	latest, err := s.GetLatestHealthMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m-2", latest[0].ID)
	assert.Equal(t, "m-3", latest[1].ID)
}

func TestMemorySystemLogsFilterAndLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSystemLog(ctx, model.SystemLog{ID: fmt.Sprintf("l-i-%d", i), Level: model.LevelInfo, Message: "info"}))
		require.NoError(t, s.CreateSystemLog(ctx, model.SystemLog{ID: fmt.Sprintf("l-e-%d", i), Level: model.LevelError, Message: "error"}))
	}

	logs, err := s.GetSystemLogs(ctx, 4, "")
	require.NoError(t, err)
	assert.Len(t, logs, 4)
	// Newest first.
	assert.Equal(t, "l-e-2", logs[0].ID)

	errLogs, err := s.GetSystemLogs(ctx, 10, model.LevelError)
	require.NoError(t, err)
	require.Len(t, errLogs, 3)
	for _, l := range errLogs {
		assert.Equal(t, model.LevelError, l.Level)
	}
}

func TestMemorySystemStats(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedProcessors(t, s, newProcessor("p-1", "One", 1), newProcessor("p-2", "Two", 2))

	disabled := false
	_, err := s.UpdateProcessor(ctx, "p-2", model.ProcessorUpdate{Enabled: &disabled})
	require.NoError(t, err)

	mkTx := func(id string, status model.TransactionStatus, elapsed *int64) model.Transaction {
		return model.Transaction{ID: id, Amount: 100, Currency: "USD", Status: status, ProcessingTime: elapsed}
	}
	t100, t200 := int64(100), int64(200)
	require.NoError(t, s.CreateTransaction(ctx, mkTx("tx-1", model.StatusSuccess, &t100)))
	require.NoError(t, s.CreateTransaction(ctx, mkTx("tx-2", model.StatusSuccess, &t200)))
	require.NoError(t, s.CreateTransaction(ctx, mkTx("tx-3", model.StatusFailed, nil)))

	stats, err := s.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTransactions)
	assert.InDelta(t, 66.7, stats.SuccessRate, 0.001)
	assert.Equal(t, 150, stats.AvgResponseTime)
	assert.Equal(t, 1, stats.ActiveProcessors)
}

func TestMemoryDuplicateCreate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateProcessor(ctx, newProcessor("p-1", "One", 1)))
	assert.ErrorIs(t, s.CreateProcessor(ctx, newProcessor("p-1", "One", 1)), ErrDuplicate)

	require.NoError(t, s.CreateTransaction(ctx, model.Transaction{ID: "tx-1", Amount: 100, Currency: "USD"}))
	assert.ErrorIs(t, s.CreateTransaction(ctx, model.Transaction{ID: "tx-1", Amount: 100, Currency: "USD"}), ErrDuplicate)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, err := Seed(ctx, s)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, 1, first[0].Priority)

	second, err := Seed(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
