package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpOptions configures the chromedp engine.
type ChromedpOptions struct {
	Headless       bool
	ExecutablePath string

	// Args are extra Chrome switches in "--name" or "--name=value" form.
	Args []string
}

// ChromedpEngine drives Chrome directly over the DevTools protocol. Every
// Launch gets its own allocator, so sessions never share a process.
type ChromedpEngine struct {
	opts ChromedpOptions
}

// NewChromedpEngine creates a chromedp-backed engine.
func NewChromedpEngine(opts ChromedpOptions) *ChromedpEngine {
	return &ChromedpEngine{opts: opts}
}

func (e *ChromedpEngine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
	)
	if e.opts.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(e.opts.ExecutablePath))
	}
	for _, arg := range e.opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Launch starts a Chrome process and waits for its first target.
func (e *ChromedpEngine) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The allocator is rooted in Background so the browser outlives the request.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), e.allocatorOptions()...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &chromedpProcess{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}, nil
}

type chromedpProcess struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func (p *chromedpProcess) NewPage(ctx context.Context, opts PageOptions) (PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(p.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &chromedpPage{
		ctx:         tabCtx,
		cancel:      tabCancel,
		navTimeout:  opts.NavigationTimeout,
		callTimeout: opts.DefaultTimeout,
	}, nil
}

func (p *chromedpProcess) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	p.allocCancel()
	return err
}

type chromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	navTimeout  time.Duration
	callTimeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the main frame's networkIdle lifecycle event.
func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	listenCtx, stopListen := context.WithCancel(p.ctx)
	defer stopListen()

	var (
		mu        sync.Mutex
		mainFrame cdp.FrameID
		committed bool
		idleOnce  sync.Once
	)
	idle := make(chan struct{})

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*cdppage.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if mainFrame == "" || e.FrameID != mainFrame {
			return
		}
		switch e.Name {
		case "init":
			committed = true
		case "networkIdle":
			if committed {
				idleOnce.Do(func() { close(idle) })
			}
		}
	})

	err := p.run(ctx, p.navTimeout,
		cdppage.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := cdppage.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			mainFrame = tree.Frame.ID
			mu.Unlock()
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			select {
			case <-idle:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 makes chromedp emit PNG.
	if err := p.run(ctx, p.callTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.callTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}
	return html, nil
}

func (p *chromedpPage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
