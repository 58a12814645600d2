package fetch

import (
	"errors"
	"fmt"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

var (
	// ErrBlacklisted means the domain was blacklisted when an attempt was due.
	ErrBlacklisted = errors.New("domain blacklisted")
	// ErrRetriesExhausted means every allowed attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNotFound means the URL is permanently gone and was not retried.
	ErrNotFound = errors.New("not found")
)

// Error is the typed terminal failure of a Fetch call. Cause is one of the
// sentinels above; Last is the final classified attempt, if any.
type Error struct {
	URL      string
	Domain   string
	Attempts int
	Last     *domain.ErrorPattern
	Cause    error
}

func (e *Error) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("fetch %s: %v after %d attempts", e.URL, e.Cause, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempts: last %s: %s",
		e.URL, e.Cause, e.Attempts, e.Last.Kind, e.Last.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Kind returns the kind of the last failure, or KindNone.
func (e *Error) Kind() domain.ErrorKind {
	if e.Last == nil {
		return domain.KindNone
	}
	return e.Last.Kind
}
