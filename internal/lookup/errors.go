package lookup

import (
	"fmt"
	"time"
)

// ThrottleError reports that a collaborator asked us to back off.
// The reliability wrapper honors RetryAfter instead of its default backoff.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
