package snapshot

import "fmt"

// TransientError marks a failed chain or provider read. The owning loop
// alerts, backs off, and retries; it is never fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UserComputationError marks a failure scoped to a single user's snapshot at
// one height. It is captured as a failure row and retried by the resolver
// without aborting the rest of the batch.
type UserComputationError struct {
	User   string
	Height uint64
	Err    error
}

func (e *UserComputationError) Error() string {
	return fmt.Sprintf("snapshot for %s at block %d: %v", e.User, e.Height, e.Err)
}

func (e *UserComputationError) Unwrap() error { return e.Err }
