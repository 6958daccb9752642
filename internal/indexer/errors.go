package indexer

import (
	"errors"
	"fmt"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
)

var (
	ErrDuplicateHandler = errors.New("handler already registered for event")
	ErrCursorRegressed  = errors.New("cursor position would move backwards")
)

// FailureKind classifies why the pipeline stopped.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureStore      FailureKind = "store"
	FailureCheckpoint FailureKind = "checkpoint"
	FailureSource     FailureKind = "source"
)

// FatalError is returned by Pipeline.Run when processing cannot continue.
// Position is the event that could not be applied; the saved cursor is
// strictly before it.
type FatalError struct {
	Kind     FailureKind
	Position cursor.Position
	Event    string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("indexer stopped (%s) at position %s: %v", e.Kind, e.Position, e.Err)
	}
	return fmt.Sprintf("indexer stopped (%s) at position %s handling %s: %v", e.Kind, e.Position, e.Event, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// AsFatal reports whether err carries a *FatalError.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
