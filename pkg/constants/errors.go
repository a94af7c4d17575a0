package constants

import "errors"

// Errors
var (
	// ErrTouched is the recoverable class: another client holds the
	// exclusive-edit claim on the document. Callers retry or abandon the
	// interactive action; this never indicates corruption.
	ErrTouched = errors.New("document is touched by another client")

	// ErrNoSuchDocument and ErrDuplicateDocument signal a client/server
	// desync and are fatal at the point of detection.
	ErrNoSuchDocument    = errors.New("no such document, touch it first")
	ErrDuplicateDocument = errors.New("duplicate document, report to the server administrator")

	ErrNotInitialized = errors.New("operation attempted before room initialization completed")

	ErrNotConnected = errors.New("channel is not connected")
	ErrClosed       = errors.New("channel is closed")

	ErrSubscriptionInUse = errors.New("subscription id already in use")
)
