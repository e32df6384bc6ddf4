// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/browserd/pkg/browser"
)

// PNG is the screenshot every fake page returns: the 8-byte PNG signature.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// Engine is a fake browser.Engine. Failures are injected through the public
// fields, which may be changed between calls but not concurrently with them.
type Engine struct {
	// LaunchErr makes Launch fail when set.
	LaunchErr error
	// LaunchDelay blocks each Launch for the given duration.
	LaunchDelay time.Duration
	// LaunchGate, when non-nil, blocks each Launch until it receives or is closed.
	LaunchGate chan struct{}

	NewPageErr    error
	NavigateErr   error
	ScreenshotErr error
	ContentErr    error
	ClosePageErr  error
	CloseErr      error

	// NewPageHook, when set, runs at the start of every NewPage call.
	NewPageHook func()
	// CloseFunc, when set, replaces CloseErr and may block.
	CloseFunc func(p *Process) error

	// HTML is returned by Content. Defaults to a small document.
	HTML string

	mu        sync.Mutex
	processes []*Process
	launches  atomic.Int64
	stopped   atomic.Bool
}

// New returns an engine where every operation succeeds.
func New() *Engine {
	return &Engine{HTML: "<html><head><title>fake</title></head><body><p>hello</p></body></html>"}
}

// Launch implements browser.Engine.
func (e *Engine) Launch(ctx context.Context) (browser.Process, error) {
	e.launches.Add(1)

	if e.LaunchGate != nil {
		select {
		case <-e.LaunchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.LaunchDelay > 0 {
		select {
		case <-time.After(e.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}

	p := &Process{engine: e}
	e.mu.Lock()
	e.processes = append(e.processes, p)
	e.mu.Unlock()
	return p, nil
}

// Close records that the engine driver was stopped.
func (e *Engine) Close() error {
	e.stopped.Store(true)
	return nil
}

// Stopped reports whether Close was called.
func (e *Engine) Stopped() bool { return e.stopped.Load() }

// Launches returns the number of Launch calls, including the Initialize probe.
func (e *Engine) Launches() int { return int(e.launches.Load()) }

// Processes returns every process launched so far.
func (e *Engine) Processes() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Process, len(e.processes))
	copy(out, e.processes)
	return out
}

// OpenProcesses returns the number of launched processes not yet closed.
func (e *Engine) OpenProcesses() int {
	n := 0
	for _, p := range e.Processes() {
		if !p.Closed() {
			n++
		}
	}
	return n
}

// Process is a fake browser.Process.
type Process struct {
	engine *Engine

	closes atomic.Int32
	mu     sync.Mutex
	pages  []*Page
}

// NewPage implements browser.Process.
func (p *Process) NewPage(ctx context.Context, opts browser.PageOptions) (browser.PageHandle, error) {
	if p.engine.NewPageHook != nil {
		p.engine.NewPageHook()
	}
	if p.Closed() {
		return nil, fmt.Errorf("browser closed")
	}
	if p.engine.NewPageErr != nil {
		return nil, p.engine.NewPageErr
	}
	pg := &Page{process: p, Options: opts}
	p.mu.Lock()
	p.pages = append(p.pages, pg)
	p.mu.Unlock()
	return pg, nil
}

// Close implements browser.Process.
func (p *Process) Close() error {
	p.closes.Add(1)
	if p.engine.CloseFunc != nil {
		return p.engine.CloseFunc(p)
	}
	return p.engine.CloseErr
}

// Closed reports whether Close was called at least once.
func (p *Process) Closed() bool { return p.closes.Load() > 0 }

// CloseCount returns how many times Close was called.
func (p *Process) CloseCount() int { return int(p.closes.Load()) }

// Pages returns the pages opened in this process.
func (p *Process) Pages() []*Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Page, len(p.pages))
	copy(out, p.pages)
	return out
}

// Page is a fake browser.PageHandle.
type Page struct {
	process *Process
	Options browser.PageOptions

	mu      sync.Mutex
	url     string
	closed  bool
	visited []string
}

// Navigate implements browser.PageHandle.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.usable(); err != nil {
		return err
	}
	if p.process.engine.NavigateErr != nil {
		return p.process.engine.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.visited = append(p.visited, url)
	p.mu.Unlock()
	return nil
}

// Screenshot implements browser.PageHandle.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	if p.process.engine.ScreenshotErr != nil {
		return nil, p.process.engine.ScreenshotErr
	}
	out := make([]byte, len(PNG))
	copy(out, PNG)
	return out, nil
}

// Content implements browser.PageHandle.
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.usable(); err != nil {
		return "", err
	}
	if p.process.engine.ContentErr != nil {
		return "", p.process.engine.ContentErr
	}
	return p.process.engine.HTML, nil
}

// Close implements browser.PageHandle.
func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.process.engine.ClosePageErr
}

// URL returns the last URL navigated to.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) usable() error {
	if p.process.Closed() {
		return fmt.Errorf("browser closed")
	}
	if p.Closed() {
		return fmt.Errorf("page closed")
	}
	return nil
}

// Clock is a manually advanced clock for browser.Options.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t, which may be earlier than the current time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
