package store

import (
	"context"
	stdErrors "errors"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

const defaultAdvanceAttempts = 5

// AdvanceTimestamp raises the stored timestamp for ds to snapshot using read-modify-write
// with optimistic concurrency. Writers only ever install max(stored, snapshot), so a
// conflict is resolved by re-reading and trying again. It reports whether a write happened.
func AdvanceTimestamp(ctx context.Context, repo TimestampRepository, ds jobs.DataStandard, snapshot, now time.Time) (bool, error) {
	var lastErr error
	for range defaultAdvanceAttempts {
		current, err := repo.GetTimestamp(ctx, ds)
		switch {
		case stdErrors.Is(err, ErrNotFound):
			current = &jobs.DataStandardTimestamp{DataStandard: ds}
		case err != nil:
			return false, err
		}

		if !current.Advance(snapshot, now) {
			return false, nil
		}
		err = repo.UpsertTimestamp(ctx, current)
		if err == nil {
			return true, nil
		}
		if !stdErrors.Is(err, ErrConflict) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

// Baseline returns the stored timestamp for ds, or the zero time when none exists.
func Baseline(ctx context.Context, repo TimestampRepository, ds jobs.DataStandard) (time.Time, error) {
	rec, err := repo.GetTimestamp(ctx, ds)
	if stdErrors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return rec.Timestamp, nil
}
