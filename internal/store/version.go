package store

import "git.home.luguber.info/inful/exchangeset/internal/foundation/errors"

// checkVersion applies the optimistic concurrency rule shared by all backends.
func checkVersion(exists bool, stored, expected int64) *errors.ClassifiedError {
	switch {
	case expected == 0 && exists:
		return ErrConflict.WithContext("reason", "already exists")
	case expected != 0 && !exists:
		return ErrNotFound
	case expected != 0 && stored != expected:
		return ErrConflict.WithContext("stored_version", stored).WithContext("expected_version", expected)
	}
	return nil
}
