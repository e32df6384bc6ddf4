package browser

import (
	"context"
	"time"
)

// Engine launches browser processes. Implementations are slow and fallible;
// the Manager never calls them while holding its lock.
type Engine interface {
	Launch(ctx context.Context) (Process, error)
}

// Process is one running browser.
type Process interface {
	NewPage(ctx context.Context, opts PageOptions) (PageHandle, error)

	// Close terminates the browser and every page it owns.
	Close() error
}

// PageHandle is one tab inside a Process.
type PageHandle interface {
	// Navigate loads url and waits until the network is idle.
	Navigate(ctx context.Context, url string) error

	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Content returns the serialized document.
	Content(ctx context.Context) (string, error)

	Close() error
}

// PageOptions are fixed when a page is opened.
type PageOptions struct {
	NavigationTimeout time.Duration
	DefaultTimeout    time.Duration
}
