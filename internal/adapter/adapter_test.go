package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/cascade/internal/config"
	"github.com/stratuspay/cascade/internal/model"
)

func alwaysApprove() Behavior {
	return Behavior{SuccessRate: 100, MinLatency: time.Millisecond, MaxLatency: 2 * time.Millisecond}
}

func TestSimulatedAdapterApproves(t *testing.T) {
	s := NewStripe("sk_test", alwaysApprove())

	res, err := s.ProcessPayment(context.Background(), 1000, "USD", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.TransactionID, "ch_"), "got %q", res.TransactionID)
	assert.Empty(t, res.ErrorMessage)
	assert.Empty(t, res.ErrorCode)
}

func TestSimulatedAdapterDeclines(t *testing.T) {
	s := NewPaypal("client-1", Behavior{SuccessRate: 0, MinLatency: time.Millisecond, MaxLatency: time.Millisecond})

	res, err := s.ProcessPayment(context.Background(), 1000, "USD", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.TransactionID)
	assert.Equal(t, "card_declined", res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "10.00")
}

func TestSimulatedAdapterFailAll(t *testing.T) {
	s := NewSquare("app-1", alwaysApprove())
	s.SetFailAll(true)

	res, err := s.ProcessPayment(context.Background(), 500, "USD", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)

	hc := s.HealthCheck(context.Background())
	assert.False(t, hc.Healthy)
	assert.NotEmpty(t, hc.Error)

	s.SetFailAll(false)
	res, err = s.ProcessPayment(context.Background(), 500, "USD", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSimulatedAdapterRespectsContext(t *testing.T) {
	s := NewAdyen("merchant", "key", Behavior{SuccessRate: 100, MinLatency: time.Second, MaxLatency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.ProcessPayment(ctx, 1000, "USD", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealthCheckHealthy(t *testing.T) {
	s := NewStripe("sk_test", alwaysApprove())
	hc := s.HealthCheck(context.Background())
	assert.True(t, hc.Healthy)
	assert.Empty(t, hc.Error)
}

func seedProc(typ string) model.Processor {
	return model.Processor{ID: "p-" + typ, Name: typ, Type: typ, Priority: 1, Enabled: true, SuccessRate: 95, ResponseTime: 100}
}

func TestRegistryBuildsOneAdapterPerType(t *testing.T) {
	procs := []model.Processor{
		seedProc("stripe"),
		seedProc("paypal"),
		seedProc("square"),
		seedProc("adyen"),
		{ID: "p-dup", Name: "dup", Type: "stripe", Priority: 5, Enabled: true},
		{ID: "p-unknown", Name: "mystery", Type: "mystery", Priority: 6, Enabled: true},
	}
	reg := NewRegistry(procs, config.AdapterCredentials{StripeAPIKey: "sk"})
	defer reg.Close()

	assert.ElementsMatch(t, []string{"stripe", "paypal", "square", "adyen"}, reg.Types())

	for _, typ := range []string{"stripe", "paypal", "square", "adyen"} {
		a, ok := reg.Get(typ)
		require.True(t, ok, typ)
		assert.Equal(t, typ, a.Type())
	}

	_, ok := reg.Get("mystery")
	assert.False(t, ok)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry(nil, config.AdapterCredentials{})
	defer reg.Close()

	s := NewStripe("sk", alwaysApprove())
	reg.Register(s)
	got, ok := reg.Get("stripe")
	require.True(t, ok)
	assert.Same(t, s, got)
}
