package sqlite

import (
	"errors"
	"strings"
)

// ErrUniqueViolation matches any wrapped unique-constraint failure.
var ErrUniqueViolation = errors.New("unique constraint violation")

// UniqueViolationError reports which constraint a write collided with.
type UniqueViolationError struct {
	Constraint string
	cause      error
}

func (e *UniqueViolationError) Error() string {
	return "unique constraint violation on " + e.Constraint
}

func (e *UniqueViolationError) Unwrap() error { return e.cause }

func (e *UniqueViolationError) Is(target error) bool {
	return target == ErrUniqueViolation
}

// MapError converts driver errors into portable store errors. The pure Go
// driver reports constraint failures as plain strings of the form
// "constraint failed: UNIQUE constraint failed: wine_lots.code".
func MapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	marker := "UNIQUE constraint failed: "
	if i := strings.Index(msg, marker); i >= 0 {
		constraint := msg[i+len(marker):]
		if j := strings.IndexAny(constraint, " ("); j >= 0 {
			constraint = constraint[:j]
		}
		return &UniqueViolationError{Constraint: constraint, cause: err}
	}
	return err
}

func mapError(err error) error { return MapError(err) }
