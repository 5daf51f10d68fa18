package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// IsLocked reports whether err means the database file is locked by another
// writer. Only these errors are worth retrying; everything else fails the
// call immediately.
func IsLocked(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// Backoff returns the delay before retry attempt n (1-based): exponential
// from 100ms, capped at one second.
func Backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << uint(attempt)
	// Large attempts overflow the shift into negatives; clamp those too.
	if d <= 0 || d > time.Second {
		d = time.Second
	}
	return d
}

// RetryLocked runs fn, retrying up to retries times while the database is
// locked, sleeping Backoff between attempts. Non-lock errors are returned
// immediately; on retry exhaustion the last lock error is returned.
func RetryLocked(log *slog.Logger, retries int, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsLocked(err) {
			return err
		}
		if attempt < retries {
			log.Debug("database is locked, retrying",
				"op", op, "attempt", attempt+1, "retries", retries)
			time.Sleep(Backoff(attempt + 1))
		}
	}
	log.Error("database still locked after retries", "op", op, "retries", retries)
	return err
}
