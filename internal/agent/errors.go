package agent

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable wraps model or infrastructure errors that consumed
// an attempt without producing a usable query.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// RetriesExhaustedError is returned when the attempt budget is spent without
// a successful answer. Attempts holds the full failure history.
type RetriesExhaustedError struct {
	Question string
	Attempts RetryContext
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts for question %q", len(e.Attempts), e.Question)
}
