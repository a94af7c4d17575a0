package roomsync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tablekit/roomsync/pkg/connection"
	"github.com/tablekit/roomsync/pkg/constants"
)

// ApplicationError is a programmer-error class observable by the user, such
// as an operation attempted before initialization. It propagates to a
// top-level handler rather than being swallowed.
type ApplicationError struct {
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// SystemError is a client/server desync that should not occur in correct
// operation, e.g. mutating a document that was never touched.
type SystemError struct {
	Message string
}

func (e *SystemError) Error() string {
	return e.Message
}

// touchError wraps a server rejection of a lock acquisition in the
// recoverable contention class. The server reports plain strings, so every
// touch-modify rejection is treated as "retry later or abandon".
func touchError(err error) error {
	var se *connection.ServerError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s", constants.ErrTouched, se.Message)
	}
	return err
}

// fatalError classifies a server rejection of a mutation. These indicate
// invariant violations, never contention.
func fatalError(err error) error {
	var se *connection.ServerError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case strings.Contains(se.Message, "no such"):
		return fmt.Errorf("%w: %s", constants.ErrNoSuchDocument, se.Message)
	case strings.Contains(se.Message, "duplicate"):
		return fmt.Errorf("%w: %s", constants.ErrDuplicateDocument, se.Message)
	default:
		return err
	}
}
