package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stratuspay/cascade/internal/model"
)

var (
	bucketProcessors   = []byte("processors")
	bucketTransactions = []byte("transactions")
	bucketMetrics      = []byte("health_metrics")
	bucketLogs         = []byte("system_logs")
)

// Bolt is a bbolt-backed Store. Rows are stored as JSON so the durable
// layout matches the wire-level entity schemas field for field.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database file and its buckets.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProcessors, bucketTransactions, bucketMetrics, bucketLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error { return s.db.Close() }

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	return b.Put(key, data)
}

func (s *Bolt) GetProcessor(_ context.Context, id string) (model.Processor, error) {
	var p model.Processor
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProcessors).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &p)
	})
	return p, err
}

func (s *Bolt) GetAllProcessors(_ context.Context) ([]model.Processor, error) {
	var ps []model.Processor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessors).ForEach(func(_, data []byte) error {
			var p model.Processor
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			ps = append(ps, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortProcessors(ps)
	return ps, nil
}

func (s *Bolt) GetActiveProcessors(ctx context.Context) ([]model.Processor, error) {
	ps, err := s.GetAllProcessors(ctx)
	if err != nil {
		return nil, err
	}
	return filterActive(ps), nil
}

func (s *Bolt) CreateProcessor(_ context.Context, p model.Processor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessors)
		if b.Get([]byte(p.ID)) != nil {
			return ErrDuplicate
		}
		now := time.Now().UTC()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		return putJSON(b, []byte(p.ID), p)
	})
}

func (s *Bolt) UpdateProcessor(_ context.Context, id string, upd model.ProcessorUpdate) (model.Processor, error) {
	var p model.Processor
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessors)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		applyProcessorUpdate(&p, upd)
		p.UpdatedAt = time.Now().UTC()
		return putJSON(b, []byte(id), p)
	})
	return p, err
}

func (s *Bolt) CreateTransaction(_ context.Context, t model.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		if b.Get([]byte(t.ID)) != nil {
			return ErrDuplicate
		}
		now := time.Now().UTC()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		return putJSON(b, []byte(t.ID), t)
	})
}

func (s *Bolt) UpdateTransaction(_ context.Context, id string, upd model.TransactionUpdate) (model.Transaction, error) {
	var t model.Transaction
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		applyTransactionUpdate(&t, upd)
		t.UpdatedAt = time.Now().UTC()
		return putJSON(b, []byte(id), t)
	})
	return t, err
}

func (s *Bolt) GetTransaction(_ context.Context, id string) (model.Transaction, error) {
	var t model.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTransactions).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &t)
	})
	return t, err
}

func (s *Bolt) allTransactions() ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(_, data []byte) error {
			var t model.Transaction
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			txs = append(txs, t)
			return nil
		})
	})
	return txs, err
}

func (s *Bolt) GetTransactions(_ context.Context, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 || offset < 0 {
		return []model.Transaction{}, nil
	}
	txs, err := s.allTransactions()
	if err != nil {
		return nil, err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	if offset >= len(txs) {
		return []model.Transaction{}, nil
	}
	end := offset + limit
	if end > len(txs) {
		end = len(txs)
	}
	return txs[offset:end], nil
}

func (s *Bolt) GetTotalTransactionCount(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTransactions).Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *Bolt) CreateHealthMetric(_ context.Context, m model.HealthMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProcessors).Get([]byte(m.ProcessorID)) == nil {
			return ErrOrphanedMetric
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		b := tx.Bucket(bucketMetrics)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(b, seqKey(seq), m)
	})
}

func (s *Bolt) GetLatestHealthMetrics(_ context.Context) ([]model.HealthMetric, error) {
	latest := make(map[string]model.HealthMetric)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).ForEach(func(_, data []byte) error {
			var m model.HealthMetric
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			cur, ok := latest[m.ProcessorID]
			if !ok || m.Timestamp.After(cur.Timestamp) {
				latest[m.ProcessorID] = m
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.HealthMetric, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorID < out[j].ProcessorID })
	return out, nil
}

func (s *Bolt) CreateSystemLog(_ context.Context, l model.SystemLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if l.Timestamp.IsZero() {
			l.Timestamp = time.Now().UTC()
		}
		b := tx.Bucket(bucketLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(b, seqKey(seq), l)
	})
}

func (s *Bolt) GetSystemLogs(_ context.Context, limit int, level model.LogLevel) ([]model.SystemLog, error) {
	out := make([]model.SystemLog, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, data := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, data = c.Prev() {
			var l model.SystemLog
			if err := json.Unmarshal(data, &l); err != nil {
				return err
			}
			if level != "" && l.Level != level {
				continue
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) GetSystemStats(ctx context.Context) (model.SystemStats, error) {
	txs, err := s.allTransactions()
	if err != nil {
		return model.SystemStats{}, err
	}
	procs, err := s.GetAllProcessors(ctx)
	if err != nil {
		return model.SystemStats{}, err
	}
	return statsFrom(txs, procs), nil
}
