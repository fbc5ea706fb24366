package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfDateVersion is returned when an optimistic update affects zero rows.
	ErrOutOfDateVersion = errors.New("aggregate version is out of date")

	// ErrCannotPersistView is returned when persist is called on a read-only snapshot.
	ErrCannotPersistView = errors.New("aggregate view cannot be persisted")

	// ErrImproperlyConfigured is returned when an event model or subscriber mapping is missing.
	ErrImproperlyConfigured = errors.New("improperly configured")

	// ErrNotImplementedForKind is returned when an aggregate has no applier for an event kind.
	ErrNotImplementedForKind = errors.New("event kind not implemented")

	// ErrNoUnitOfWork is returned when a persistable aggregate is mutated outside a unit of work.
	ErrNoUnitOfWork = errors.New("no unit of work bound to context")
)

// OutOfDateVersionError reports a failed compare-and-update on an aggregate row.
type OutOfDateVersionError struct {
	Model string
}

func (e *OutOfDateVersionError) Error() string {
	return fmt.Sprintf("The %s you are trying to update is out of date. Please refresh and try again.", e.Model)
}

func (e *OutOfDateVersionError) Is(target error) bool {
	return target == ErrOutOfDateVersion
}

// CannotPersistViewError reports an attempt to persist a view-only snapshot.
type CannotPersistViewError struct {
	Model string
}

func (e *CannotPersistViewError) Error() string {
	return fmt.Sprintf("The %s you are trying to persist is a view and cannot be persisted.", e.Model)
}

func (e *CannotPersistViewError) Is(target error) bool {
	return target == ErrCannotPersistView
}
