package reliability

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLite primary result codes that signal lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsRetryableSQLState classifies postgres SQLSTATE codes that are safe to retry
// by re-running the whole transaction.
func IsRetryableSQLState(code string) bool {
	switch code {
	case "40001", "40P01":
		return true
	default:
		return false
	}
}

// IsRetryableStoreError reports whether err is a transient conflict raised by
// the backing store (serialization failure, deadlock, busy database).
func IsRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsRetryableSQLState(pgErr.Code)
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
