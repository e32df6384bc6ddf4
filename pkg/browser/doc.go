// Package browser manages a bounded pool of remote-controlled browser sessions.
//
// A Manager owns every browser process and page handle. Callers only ever see
// opaque session and page ids, and an id stays invalid forever once its
// session is closed, evicted, reclaimed or shut down.
//
// # Capacity
//
// At most Options.MaxSessions browsers run at once. Creating a session at
// capacity first closes the session with the oldest last activity. Slots are
// reserved before the (slow) launch, so concurrent creators never share one.
//
// # Idle reclamation
//
// A background sweep runs every Options.SweepInterval and closes sessions that
// have been untouched for longer than Options.IdleTimeout. Every operation on
// a session or one of its pages counts as a touch.
//
// # Engines
//
// The automation backend is an Engine. PlaywrightEngine (playwright-go) is the
// default; ChromedpEngine speaks the DevTools protocol directly and needs only
// a Chrome binary.
//
//	engine := browser.NewPlaywrightEngine(browser.PlaywrightOptions{Headless: true})
//	pool := browser.NewManager(engine, browser.Options{MaxSessions: 5})
//	if err := pool.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer pool.Shutdown(context.Background())
//
//	sid, _ := pool.CreateSession(ctx)
//	pid, _ := pool.CreatePage(ctx, sid)
//	err := pool.Navigate(ctx, sid, pid, "https://example.com")
package browser
