package eventstore

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Append(ctx context.Context, jobID, eventType string, payload []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{
		Seq:      int64(len(m.records) + 1),
		JobID:    jobID,
		Type:     eventType,
		At:       m.now().UTC(),
		Payload:  append([]byte(nil), payload...),
		Metadata: maps.Clone(metadata),
	})
	return nil
}

func (m *MemoryStore) GetByJobID(_ context.Context, jobID string) ([]Record, error) {
	return m.selectWhere(func(r *Record) bool { return r.JobID == jobID }), nil
}

func (m *MemoryStore) GetRange(_ context.Context, start, end time.Time) ([]Record, error) {
	return m.selectWhere(func(r *Record) bool {
		return !r.At.Before(start) && !r.At.After(end)
	}), nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) selectWhere(keep func(*Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := range m.records {
		if keep(&m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	return out
}
