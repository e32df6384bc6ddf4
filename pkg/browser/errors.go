package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for an unknown or destroyed session id.
	ErrSessionNotFound = errors.New("browser session not found")

	// ErrPageNotFound is returned for an unknown page id within a live session.
	ErrPageNotFound = errors.New("page not found")

	// ErrNotInitialized is returned when the pool is not accepting traffic,
	// either before Initialize or after Shutdown has begun.
	ErrNotInitialized = errors.New("browser pool not initialized")

	// ErrCapacityExhausted is wrapped by a CreationError when every slot is
	// held by a creation still in flight and nothing can be evicted.
	ErrCapacityExhausted = errors.New("browser pool capacity exhausted")
)

// OperationError reports a failed automation call against a live session or page.
// The session and page stay registered unless the operation was a close.
type OperationError struct {
	Op        string
	SessionID string
	PageID    string
	Err       error
}

func (e *OperationError) Error() string {
	switch {
	case e.PageID != "":
		return fmt.Sprintf("%s (session %s, page %s): %v", e.Op, e.SessionID, e.PageID, e.Err)
	case e.SessionID != "":
		return fmt.Sprintf("%s (session %s): %v", e.Op, e.SessionID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *OperationError) Unwrap() error { return e.Err }

// CreationError reports that a new session could not be launched.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create browser session: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// InitializationError reports that the startup probe failed.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize browser pool: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

func sessionNotFound(id string) error {
	return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
}

func pageNotFound(sessionID, pageID string) error {
	return fmt.Errorf("page %q in session %q: %w", pageID, sessionID, ErrPageNotFound)
}
