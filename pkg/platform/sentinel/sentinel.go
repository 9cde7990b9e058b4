// Package sentinel names the storage facts stores report. Services translate
// them into domain errors; validation problems never use these.
package sentinel

import "errors"

var (
	// ErrNotFound: no row, or the row is filtered out as inactive.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a unique constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a consume-once record such as a webhook nonce exists.
	ErrAlreadyUsed = errors.New("already used")
)

// ConflictError is ErrConflict naming the unique constraint that fired.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string {
	if e.Constraint == "" {
		return ErrConflict.Error()
	}
	return ErrConflict.Error() + " on " + e.Constraint
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConstraintOf returns the constraint named in err's chain, or "" when the
// conflict carries none.
func ConstraintOf(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Constraint
	}
	return ""
}
