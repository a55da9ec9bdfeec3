package eventstore

import (
	"context"
	"encoding/json"
	"time"
)

// TimelineEntry is one event rendered for API consumers.
type TimelineEntry struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Timeline returns the ordered event history of a job.
func Timeline(ctx context.Context, store Store, jobID string) ([]TimelineEntry, error) {
	events, err := store.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]TimelineEntry, 0, len(events))
	for _, r := range events {
		entry := TimelineEntry{Type: r.Type, Timestamp: r.At, Metadata: r.Metadata}
		if json.Valid(r.Payload) {
			entry.Payload = json.RawMessage(r.Payload)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Counts tallies event types appended within [start, end].
func Counts(ctx context.Context, store Store, start, end time.Time) (map[string]int, error) {
	events, err := store.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range events {
		counts[r.Type]++
	}
	return counts, nil
}
