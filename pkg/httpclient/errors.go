package httpclient

import (
	"fmt"
	"time"
)

// RetriesExhaustedError reports a request abandoned after the retry
// budget ran out. Status holds the last response code seen; zero means
// the failure was transport-level. Providers wrap this into their
// upstream-error type.
type RetriesExhaustedError struct {
	Status     int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	msg := fmt.Sprintf("gave up after %d attempts", e.Attempts)
	if e.Status != 0 {
		msg = fmt.Sprintf("gave up after %d attempts, last status %d", e.Attempts, e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (upstream asked for %v)", e.RetryAfter)
	}
	return msg
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
