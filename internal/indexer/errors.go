package indexer

import (
	"errors"
	"fmt"

	"eventScope/internal/model"
)

// ErrInvalidQuery is returned before any upstream request when a query or
// configuration cannot be executed.
var ErrInvalidQuery = errors.New("invalid query")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// TransientError marks an upstream failure worth retrying, such as an HTTP
// error or a rate-limit response.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transient upstream error: %v", e.Err)
	}
	return fmt.Sprintf("%s: transient upstream error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UpstreamUnavailableError is returned when a page could not be fetched within
// the retry budget. It carries the progress made before the failure so the
// caller can resume.
type UpstreamUnavailableError struct {
	// Range is the chunk that failed.
	Range BlockRange
	// Page is the page number that failed within Range.
	Page int
	// Attempts is how many times the page was requested.
	Attempts int
	// LastCompleted is the last block of the last fully completed chunk.
	// Only meaningful when HasProgress is true.
	LastCompleted uint64
	HasProgress   bool
	// Partial holds the totals of every completed chunk. Entries from the
	// failed chunk are never included.
	Partial model.Result
	// Pending lists the chunks that were not completed, failed chunk first.
	Pending []BlockRange
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	progress := "no completed chunks"
	if e.HasProgress {
		progress = fmt.Sprintf("last completed block %d", e.LastCompleted)
	}
	return fmt.Sprintf("upstream unavailable: blocks %d-%d page %d after %d attempts (%s): %v",
		e.Range.From, e.Range.To, e.Page, e.Attempts, progress, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// ResumeFrom returns the first block that still needs to be processed.
func (e *UpstreamUnavailableError) ResumeFrom() uint64 {
	if e.HasProgress {
		return e.LastCompleted + 1
	}
	return e.Range.From
}
