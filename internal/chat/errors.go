package chat

import "fmt"

// ---------------------------------------------
// 🚨 Typed Errors for the Send Pipeline
// ---------------------------------------------
// Primary-path errors (validation, authorization, persistence,
// streaming) propagate to the caller and become `error` events.
// Side-path errors (cache, embedding, attachments) are swallowed at
// their call site and never reach here.

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// PersistenceError wraps a store failure. Fatal to the send path:
// no completion attempt is made after one.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StreamingError wraps a completion-provider failure. The already
// persisted user message is retained; no assistant message exists.
type StreamingError struct {
	Err error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("streaming failed: %v", e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }
