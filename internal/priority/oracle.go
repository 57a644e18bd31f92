package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/model"
)

// Oracle fetches the priority list from an external endpoint. Any failure
// (transport, status, parse, empty result) yields the static fallback list
// fixed at construction; routing cannot distinguish the two.
type Oracle struct {
	endpoint string
	client   *http.Client
	fallback []model.PriorityEntry
	log      zerolog.Logger

	mu             sync.Mutex
	fallbackActive bool
	lastErr        string
}

// oracleResponse is the payload shape the external system serves. Extra
// fields (round metadata and the like) are ignored.
type oracleResponse struct {
	Priorities []model.PriorityEntry `json:"priorities"`
}

// NewOracle creates an oracle source with the given fallback list.
func NewOracle(endpoint string, fallback []model.PriorityEntry, log zerolog.Logger) *Oracle {
	return &Oracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 3 * time.Second},
		fallback: append([]model.PriorityEntry(nil), fallback...),
		log:      log.With().Str("service", "oracle").Logger(),
	}
}

func (o *Oracle) GetPriorities(ctx context.Context) ([]model.PriorityEntry, error) {
	entries, err := o.fetch(ctx)
	if err != nil {
		o.log.Error().Err(err).Str("endpoint", o.endpoint).
			Msg("priority oracle failed, using fallback list")
		o.noteFailure(err)
		return append([]model.PriorityEntry(nil), o.fallback...), nil
	}
	o.noteSuccess()
	return entries, nil
}

func (o *Oracle) fetch(ctx context.Context) ([]model.PriorityEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build oracle request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var payload oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}

	entries := make([]model.PriorityEntry, 0, len(payload.Priorities))
	for _, e := range payload.Priorities {
		if e.Enabled {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("oracle returned no enabled processors")
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].ProcessorID < entries[j].ProcessorID
	})
	return entries, nil
}

func (o *Oracle) noteFailure(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbackActive = true
	o.lastErr = err.Error()
}

func (o *Oracle) noteSuccess() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbackActive = false
	o.lastErr = ""
}

func (o *Oracle) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{Kind: "oracle", FallbackActive: o.fallbackActive, LastError: o.lastErr}
}
