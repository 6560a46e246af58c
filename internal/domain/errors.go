package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ConsistencyError reports a registry paired-write failure. It is the one
// error surfaced to the registration caller rather than folded into
// session counters.
type ConsistencyError struct {
	Op     string
	Reason error
}

func (e ConsistencyError) Error() string {
	return fmt.Sprintf("registry consistency failure in %s: %v", e.Op, e.Reason)
}

func (e ConsistencyError) Unwrap() error {
	return e.Reason
}
