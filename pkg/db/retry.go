package db

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrConflict marks a lock/serialization conflict that has exhausted its
// retry budget.
var ErrConflict = errors.New("db_conflict")

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// WithRetry runs fn, retrying a small number of times with linear backoff
// when the failure looks like lock contention. Business errors pass through
// on the first attempt.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return errors.Join(ErrConflict, err)
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "could not serialize"),
		strings.Contains(msg, "lock timeout"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "busy"):
		return true
	}
	return false
}
