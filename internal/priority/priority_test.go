package priority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/store"
)

func TestLocalSourceFiltersAndOrders(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	mk := func(id, name string, prio int, enabled bool) model.Processor {
		return model.Processor{ID: id, Name: name, Type: "stripe", Priority: prio, Enabled: enabled}
	}
	require.NoError(t, st.CreateProcessor(ctx, mk("p-2", "Second", 2, true)))
	require.NoError(t, st.CreateProcessor(ctx, mk("p-1", "First", 1, true)))
	require.NoError(t, st.CreateProcessor(ctx, mk("p-3", "Off", 1, false)))

	src := NewLocal(st)
	entries, err := src.GetPriorities(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p-1", entries[0].ProcessorID)
	assert.Equal(t, "p-2", entries[1].ProcessorID)
	assert.Equal(t, Status{Kind: "local"}, src.Status())
}

func TestOracleReturnsFetchedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"priorities": [
				{"processorId":"p-2","name":"Second","priority":2,"enabled":true},
				{"processorId":"p-1","name":"First","priority":1,"enabled":true},
				{"processorId":"p-3","name":"Off","priority":3,"enabled":false}
			],
			"lastRound": 12345
		}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, nil, zerolog.Nop())
	entries, err := o.GetPriorities(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p-1", entries[0].ProcessorID)
	assert.Equal(t, "p-2", entries[1].ProcessorID)

	status := o.Status()
	assert.Equal(t, "oracle", status.Kind)
	assert.False(t, status.FallbackActive)
}

func TestOracleFallsBackOnFailure(t *testing.T) {
	fallback := []model.PriorityEntry{
		{ProcessorID: "p-1", Name: "First", Priority: 1, Enabled: true},
		{ProcessorID: "p-2", Name: "Second", Priority: 2, Enabled: true},
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"priorities": "not a list"`))
		}},
		{"empty list", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"priorities": []}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			o := NewOracle(srv.URL, fallback, zerolog.Nop())
			entries, err := o.GetPriorities(context.Background())
			require.NoError(t, err)
			assert.Equal(t, fallback, entries)

			status := o.Status()
			assert.True(t, status.FallbackActive)
			assert.NotEmpty(t, status.LastError)
		})
	}
}

func TestOracleFallbackOnUnreachableEndpoint(t *testing.T) {
	fallback := []model.PriorityEntry{{ProcessorID: "p-1", Name: "First", Priority: 1, Enabled: true}}
	o := NewOracle("http://127.0.0.1:1/priorities", fallback, zerolog.Nop())

	entries, err := o.GetPriorities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fallback, entries)
	assert.True(t, o.Status().FallbackActive)
}

func TestOracleRecoversAfterFallback(t *testing.T) {
	healthy := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"priorities":[{"processorId":"p-1","name":"First","priority":1,"enabled":true}]}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, []model.PriorityEntry{{ProcessorID: "fb", Name: "Fallback", Priority: 1, Enabled: true}}, zerolog.Nop())

	_, err := o.GetPriorities(context.Background())
	require.NoError(t, err)
	assert.True(t, o.Status().FallbackActive)

	healthy = true
	entries, err := o.GetPriorities(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p-1", entries[0].ProcessorID)
	assert.False(t, o.Status().FallbackActive)
}
