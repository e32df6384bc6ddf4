// Package events fans structured events out to long-lived observers using
// the Server-Sent Events frame format.
package events

// Event is one message for observers.
type Event struct {
	// Type is the SSE event name. Empty and "message" omit the event line.
	Type string `json:"type"`

	// Data is written literally when it is a string, []byte or scalar and as
	// JSON otherwise.
	Data any `json:"data,omitempty"`

	// ID is assigned from the hub's sequence when empty.
	ID string `json:"id,omitempty"`

	// Retry is the reconnection hint in milliseconds. Zero omits it.
	Retry int `json:"retry,omitempty"`
}

// Event types broadcast by browserd.
const (
	TypeMessage         = "message"
	TypeTest            = "test"
	TypeBrowserCreated  = "browser.created"
	TypeBrowserClosed   = "browser.closed"
	TypeBrowserEvicted  = "browser.evicted"
	TypeBrowserReclaim  = "browser.reclaimed"
	TypePageCreated     = "page.created"
	TypePageNavigated   = "page.navigated"
	TypePageClosed      = "page.closed"
	TypeScreenshotTaken = "screenshot.taken"
	TypeTestCompleted   = "test.completed"
	TypeTestFailed      = "test.failed"
)
