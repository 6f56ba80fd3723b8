package records

import "fmt"

// ValidationError is a malformed or out-of-range input row. It is recovered
// locally: the row is recorded as failed and processing continues.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DependencyError is a failed call to an external collaborator (arbitration
// provider, storage). It is isolated to the item being processed and never
// aborts the run.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// FatalError aborts the run: an unreadable input stream, storage unreachable
// at start, or corrupt stored data feeding the pure stages.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }
