// Package logging configures the process logger. Every event goes to stdout
// as JSON and, through StoreWriter, is appended asynchronously to the store's
// system-log table.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/model"
	"github.com/stratuspay/cascade/internal/store"
)

// New builds the root logger at the given level writing to w. Components
// derive their own loggers with a "service" field.
func New(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// StoreWriter is an io.Writer that decodes zerolog JSON events and appends
// them to the store through a bounded queue. Writes never block the caller;
// when the queue is full the event is dropped.
type StoreWriter struct {
	store store.Store
	queue chan model.SystemLog
	once  sync.Once
	done  chan struct{}
}

// NewStoreWriter starts the background drain goroutine.
func NewStoreWriter(st store.Store, buffer int) *StoreWriter {
	if buffer <= 0 {
		buffer = 256
	}
	w := &StoreWriter{
		store: st,
		queue: make(chan model.SystemLog, buffer),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *StoreWriter) drain() {
	defer close(w.done)
	for entry := range w.queue {
		// A failed append is dropped: the log table must never be able
		// to wedge the request path.
		_ = w.store.CreateSystemLog(context.Background(), entry)
	}
}

func (w *StoreWriter) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		// Not a JSON event; nothing to store.
		return len(p), nil
	}

	entry := model.SystemLog{
		ID:        uuid.NewString(),
		Level:     model.LevelInfo,
		Service:   "cascade",
		Timestamp: time.Now().UTC(),
	}
	if v, ok := raw[zerolog.LevelFieldName].(string); ok {
		switch v {
		case "debug", "info", "warn", "error":
			entry.Level = model.LogLevel(v)
		}
		delete(raw, zerolog.LevelFieldName)
	}
	if v, ok := raw[zerolog.MessageFieldName].(string); ok {
		entry.Message = v
		delete(raw, zerolog.MessageFieldName)
	}
	if v, ok := raw["service"].(string); ok {
		entry.Service = v
		delete(raw, "service")
	}
	if v, ok := raw["transactionId"].(string); ok {
		entry.TransactionID = &v
		delete(raw, "transactionId")
	}
	if v, ok := raw["processorId"].(string); ok {
		entry.ProcessorID = &v
		delete(raw, "processorId")
	}
	if v, ok := raw[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts.UTC()
		}
		delete(raw, zerolog.TimestampFieldName)
	}
	if len(raw) > 0 {
		entry.Metadata = raw
	}

	select {
	case w.queue <- entry:
	default:
		// Queue full, drop the entry.
	}
	return len(p), nil
}

// Close stops accepting events and waits for the queue to drain.
func (w *StoreWriter) Close() {
	w.once.Do(func() {
		close(w.queue)
		<-w.done
	})
}
