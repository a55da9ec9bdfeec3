package jobs

import "time"

// DataStandardTimestamp is the last upstream data timestamp built successfully for a data standard.
type DataStandardTimestamp struct {
	DataStandard DataStandard `json:"data_standard"`
	Timestamp    time.Time    `json:"timestamp"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Version      int64        `json:"version"`
}

// Advance raises the timestamp to ts and reports whether it changed.
// The value never decreases.
func (d *DataStandardTimestamp) Advance(ts, now time.Time) bool {
	if !ts.After(d.Timestamp) {
		return false
	}
	d.Timestamp = ts.UTC()
	d.UpdatedAt = now.UTC()
	return true
}
