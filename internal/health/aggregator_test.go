package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/cascade/internal/breaker"
	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/priority"
	"github.com/stratuspay/cascade/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, store.Store, *breaker.Breaker) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateProcessor(ctx, model.Processor{
		ID: "p-1", Name: "Primary", Type: "stripe", Priority: 1, Enabled: true,
		SuccessRate: 95, ResponseTime: 120,
	}))
	require.NoError(t, st.CreateProcessor(ctx, model.Processor{
		ID: "p-2", Name: "Backup", Type: "paypal", Priority: 2, Enabled: true,
		SuccessRate: 92, ResponseTime: 180,
	}))
	brk := breaker.New(st, zerolog.Nop(), nil, 3, time.Minute)
	return New(st, brk, priority.NewLocal(st)), st, brk
}

func TestSnapshotHealthy(t *testing.T) {
	agg, st, _ := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, st.CreateHealthMetric(ctx, model.HealthMetric{
		ProcessorID: "p-1", SuccessCount: 1, AvgResponseTime: 88, TotalTransactions: 1,
	}))

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, "healthy", snap.Status)
	assert.False(t, snap.Timestamp.IsZero())
	assert.GreaterOrEqual(t, snap.UptimeSeconds, int64(0))
	assert.Equal(t, 2, snap.Stats.ActiveProcessors)
	assert.Equal(t, priority.Status{Kind: "local"}, snap.PrioritySource)

	require.Len(t, snap.Processors, 2)
	// Observed latency wins over the declared baseline when metrics exist.
	assert.Equal(t, ProcessorHealth{
		Name: "Primary", Enabled: true, SuccessRate: 95, AvgResponseTime: 88,
	}, snap.Processors[0])
	assert.Equal(t, ProcessorHealth{
		Name: "Backup", Enabled: true, SuccessRate: 92, AvgResponseTime: 180,
	}, snap.Processors[1])

	require.Len(t, snap.CircuitBreakers, 2)
	assert.Equal(t, "p-1", snap.CircuitBreakers[0].ID)
	assert.False(t, snap.CircuitBreakers[0].IsOpen)
}

func TestSnapshotDegradedWhenNoActiveProcessors(t *testing.T) {
	agg, st, _ := newTestAggregator(t)
	ctx := context.Background()

	disabled := false
	for _, id := range []string{"p-1", "p-2"} {
		_, err := st.UpdateProcessor(ctx, id, model.ProcessorUpdate{Enabled: &disabled})
		require.NoError(t, err)
	}

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", snap.Status)
	assert.Zero(t, snap.Stats.ActiveProcessors)
	require.Len(t, snap.Processors, 2)
	assert.False(t, snap.Processors[0].Enabled)
}

func TestSnapshotReflectsOpenCircuit(t *testing.T) {
	agg, _, brk := newTestAggregator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, brk.RecordFailure(ctx, "p-2"))
	}

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	require.Len(t, snap.CircuitBreakers, 2)
	assert.False(t, snap.CircuitBreakers[0].IsOpen)
	assert.True(t, snap.CircuitBreakers[1].IsOpen)
	assert.Equal(t, 3, snap.CircuitBreakers[1].ConsecutiveFailures)
	assert.True(t, snap.Processors[1].CircuitBreakerOpen)

	// An open circuit on its own does not mark the system degraded.
	assert.Equal(t, "healthy", snap.Status)
}
