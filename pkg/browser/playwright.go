package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightOptions configures the Playwright engine.
type PlaywrightOptions struct {
	Headless       bool
	ExecutablePath string
	Args           []string

	// Install downloads the driver and browsers before the first launch.
	Install bool
}

// PlaywrightEngine launches Chromium through playwright-go. The driver is
// started on first launch and stopped by Close.
type PlaywrightEngine struct {
	opts PlaywrightOptions

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightEngine creates an engine. No driver is started until Launch.
func NewPlaywrightEngine(opts PlaywrightOptions) *PlaywrightEngine {
	return &PlaywrightEngine{opts: opts}
}

func (e *PlaywrightEngine) driver() (*playwright.Playwright, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw != nil {
		return e.pw, nil
	}

	// Keep driver output off stdout; the stdio protocol owns it.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if e.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	e.pw = pw
	return pw, nil
}

// Launch starts a Chromium process.
func (e *PlaywrightEngine) Launch(ctx context.Context) (Process, error) {
	pw, err := e.driver()
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.opts.Headless),
		Args:     e.opts.Args,
	}
	if e.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(e.opts.ExecutablePath)
	}

	// Launch and NewPage are not abandoned on ctx, the handle would leak.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return &playwrightProcess{browser: b}, nil
}

// Close stops the driver. Launch starts a fresh one afterwards.
func (e *PlaywrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw == nil {
		return nil
	}
	err := e.pw.Stop()
	e.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightProcess struct {
	browser playwright.Browser
}

func (p *playwrightProcess) NewPage(ctx context.Context, opts PageOptions) (PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pg, err := p.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	pg.SetDefaultNavigationTimeout(float64(opts.NavigationTimeout.Milliseconds()))
	pg.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	return &playwrightPage{page: pg}, nil
}

func (p *playwrightProcess) Close() error {
	return p.browser.Close()
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	_, err := callWithContext(ctx, func() (playwright.Response, error) {
		return p.page.Goto(url, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateNetworkidle})
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := callWithContext(ctx, func() ([]byte, error) {
		return p.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	html, err := callWithContext(ctx, p.page.Content)
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}
	return html, nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// callWithContext runs a blocking playwright call and returns early when ctx
// ends. The call itself keeps running until the driver's own timeout.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
