package browser_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browserd/internal/testing/browsertest"
	"github.com/entrhq/browserd/pkg/browser"
)

type closeRecorder struct {
	mu     sync.Mutex
	events []closeEvent
}

type closeEvent struct {
	id     string
	reason browser.CloseReason
}

func (r *closeRecorder) record(id string, reason browser.CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, closeEvent{id, reason})
}

func (r *closeRecorder) all() []closeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]closeEvent(nil), r.events...)
}

func newManager(t *testing.T, engine *browsertest.Engine, opts browser.Options) *browser.Manager {
	t.Helper()
	if opts.SweepInterval == 0 {
		opts.SweepInterval = -1
	}
	m := browser.NewManager(engine, opts)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestInitialize(t *testing.T) {
	t.Run("launches and closes one browser", func(t *testing.T) {
		engine := browsertest.New()
		m := browser.NewManager(engine, browser.Options{SweepInterval: -1})

		assert.False(t, m.IsInitialized())
		require.NoError(t, m.Initialize(context.Background()))
		assert.True(t, m.IsInitialized())

		procs := engine.Processes()
		require.Len(t, procs, 1)
		assert.True(t, procs[0].Closed())
		assert.Empty(t, m.ActiveSessionIDs())

		require.NoError(t, m.Initialize(context.Background()))
		assert.Equal(t, 1, engine.Launches(), "second Initialize must not launch again")
	})

	t.Run("launch failure", func(t *testing.T) {
		engine := browsertest.New()
		engine.LaunchErr = browsertest.ErrInjected
		m := browser.NewManager(engine, browser.Options{SweepInterval: -1})

		err := m.Initialize(context.Background())
		var initErr *browser.InitializationError
		require.ErrorAs(t, err, &initErr)
		assert.ErrorIs(t, err, browsertest.ErrInjected)
		assert.False(t, m.IsInitialized())
	})

	t.Run("create before initialize", func(t *testing.T) {
		m := browser.NewManager(browsertest.New(), browser.Options{})
		_, err := m.CreateSession(context.Background())
		assert.ErrorIs(t, err, browser.ErrNotInitialized)
	})
}

func TestCreateAndCloseSession(t *testing.T) {
	engine := browsertest.New()
	rec := &closeRecorder{}
	m := newManager(t, engine, browser.Options{OnClose: rec.record})
	ctx := context.Background()

	id, err := m.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, m.ActiveSessionIDs())

	require.NoError(t, m.CloseSession(ctx, id))
	assert.Empty(t, m.ActiveSessionIDs())
	assert.Equal(t, []closeEvent{{id, browser.ReasonClosed}}, rec.all())

	err = m.CloseSession(ctx, id)
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)

	_, err = m.CreatePage(ctx, id)
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)
}

func TestCloseSessionFailureStillRemoves(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})
	ctx := context.Background()

	id, err := m.CreateSession(ctx)
	require.NoError(t, err)

	engine.CloseErr = browsertest.ErrInjected
	err = m.CloseSession(ctx, id)

	var opErr *browser.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, id, opErr.SessionID)
	assert.Empty(t, m.ActiveSessionIDs())

	engine.CloseErr = nil
}

func TestCreateSessionLaunchFailure(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})

	engine.LaunchErr = browsertest.ErrInjected
	_, err := m.CreateSession(context.Background())

	var createErr *browser.CreationError
	require.ErrorAs(t, err, &createErr)
	assert.ErrorIs(t, err, browsertest.ErrInjected)
	assert.Empty(t, m.ActiveSessionIDs())
}

func TestActiveSessionIDsCreationOrder(t *testing.T) {
	m := newManager(t, browsertest.New(), browser.Options{MaxSessions: 10})
	ctx := context.Background()

	var want []string
	for i := 0; i < 6; i++ {
		id, err := m.CreateSession(ctx)
		require.NoError(t, err)
		want = append(want, id)
	}
	assert.Equal(t, want, m.ActiveSessionIDs())

	infos := m.Sessions()
	require.Len(t, infos, 6)
	for i, info := range infos {
		assert.Equal(t, want[i], info.ID)
		assert.Zero(t, info.Pages)
	}
}

func TestPageLifecycle(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{
		NavigationTimeout: 10 * time.Second,
		DefaultTimeout:    5 * time.Second,
	})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)

	pid, err := m.CreatePage(ctx, sid)
	require.NoError(t, err)

	pages := engine.Processes()[1].Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 10*time.Second, pages[0].Options.NavigationTimeout)
	assert.Equal(t, 5*time.Second, pages[0].Options.DefaultTimeout)

	require.NoError(t, m.Navigate(ctx, sid, pid, "https://example.com"))
	assert.Equal(t, "https://example.com", pages[0].URL())

	shot, err := m.Screenshot(ctx, sid, pid)
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNG, shot)

	html, err := m.Content(ctx, sid, pid)
	require.NoError(t, err)
	assert.Contains(t, html, "<p>hello</p>")

	assert.Equal(t, 1, m.Sessions()[0].Pages)

	require.NoError(t, m.ClosePage(ctx, sid, pid))
	assert.True(t, pages[0].Closed())

	err = m.Navigate(ctx, sid, pid, "https://example.com")
	assert.ErrorIs(t, err, browser.ErrPageNotFound)
	err = m.ClosePage(ctx, sid, pid)
	assert.ErrorIs(t, err, browser.ErrPageNotFound)
}

func TestUnknownIDs(t *testing.T) {
	m := newManager(t, browsertest.New(), browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"navigate unknown session", func() error { return m.Navigate(ctx, "nope", "p", "https://a.b") }, browser.ErrSessionNotFound},
		{"screenshot unknown session", func() error { _, err := m.Screenshot(ctx, "nope", "p"); return err }, browser.ErrSessionNotFound},
		{"content unknown page", func() error { _, err := m.Content(ctx, sid, "nope"); return err }, browser.ErrPageNotFound},
		{"close page unknown session", func() error { return m.ClosePage(ctx, "nope", "p") }, browser.ErrSessionNotFound},
		{"create page unknown session", func() error { _, err := m.CreatePage(ctx, "nope"); return err }, browser.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.wantErr)
		})
	}
}

func TestClosingSessionInvalidatesPages(t *testing.T) {
	m := newManager(t, browsertest.New(), browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)
	p1, err := m.CreatePage(ctx, sid)
	require.NoError(t, err)
	p2, err := m.CreatePage(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(ctx, sid))

	for _, pid := range []string{p1, p2} {
		_, err := m.Content(ctx, sid, pid)
		assert.ErrorIs(t, err, browser.ErrSessionNotFound)
	}
}

func TestNavigateFailureKeepsPage(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)
	pid, err := m.CreatePage(ctx, sid)
	require.NoError(t, err)

	engine.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	err = m.Navigate(ctx, sid, pid, "https://does-not-exist.invalid")

	var opErr *browser.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "navigate", opErr.Op)
	assert.Equal(t, pid, opErr.PageID)

	html, err := m.Content(ctx, sid, pid)
	require.NoError(t, err)
	assert.NotEmpty(t, html)
	engine.NavigateErr = nil
}

func TestClosePageFailureStillRemoves(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)
	pid, err := m.CreatePage(ctx, sid)
	require.NoError(t, err)

	engine.ClosePageErr = browsertest.ErrInjected
	err = m.ClosePage(ctx, sid, pid)
	var opErr *browser.OperationError
	require.ErrorAs(t, err, &opErr)

	_, err = m.Screenshot(ctx, sid, pid)
	assert.ErrorIs(t, err, browser.ErrPageNotFound)
	engine.ClosePageErr = nil
}

func TestCreatePageFailure(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)

	engine.NewPageErr = browsertest.ErrInjected
	_, err = m.CreatePage(ctx, sid)
	var opErr *browser.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, []string{sid}, m.ActiveSessionIDs())
	engine.NewPageErr = nil
}

func TestCreatePageOnSessionClosedMidCreation(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	engine.NewPageHook = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.CreatePage(ctx, sid)
		done <- err
	}()

	<-entered
	require.NoError(t, m.CloseSession(ctx, sid))
	close(release)

	err = <-done
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)
	var opErr *browser.OperationError
	assert.False(t, errors.As(err, &opErr))
	engine.NewPageHook = nil
}

func TestEvictionAtCapacity(t *testing.T) {
	engine := browsertest.New()
	clock := browsertest.NewClock()
	rec := &closeRecorder{}
	m := newManager(t, engine, browser.Options{MaxSessions: 5, Clock: clock.Now, OnClose: rec.record})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := m.CreateSession(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(time.Second)
	}

	// Touching the first session makes the second one the oldest.
	_, err := m.CreatePage(ctx, ids[0])
	require.NoError(t, err)
	clock.Advance(time.Second)

	sixth, err := m.CreateSession(ctx)
	require.NoError(t, err)

	active := m.ActiveSessionIDs()
	assert.Len(t, active, 5)
	assert.NotContains(t, active, ids[1])
	assert.Contains(t, active, sixth)
	assert.Equal(t, []closeEvent{{ids[1], browser.ReasonEvicted}}, rec.all())

	_, err = m.CreatePage(ctx, ids[1])
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)
}

func TestEvictionTieBreaksOnCreationOrder(t *testing.T) {
	clock := browsertest.NewClock()
	m := newManager(t, browsertest.New(), browser.Options{MaxSessions: 3, Clock: clock.Now})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.CreateSession(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err := m.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotContains(t, m.ActiveSessionIDs(), ids[0])
	assert.Contains(t, m.ActiveSessionIDs(), ids[1])
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	clock := browsertest.NewClock()
	m := newManager(t, browsertest.New(), browser.Options{Clock: clock.Now})
	ctx := context.Background()

	sid, err := m.CreateSession(ctx)
	require.NoError(t, err)
	before := m.Sessions()[0].LastUsedAt

	clock.Set(before.Add(-time.Hour))
	_, err = m.CreatePage(ctx, sid)
	require.NoError(t, err)

	after := m.Sessions()[0].LastUsedAt
	assert.False(t, after.Before(before))
}

func TestCapacityExhaustedByPendingCreations(t *testing.T) {
	engine := browsertest.New()
	m := newManager(t, engine, browser.Options{MaxSessions: 1})
	ctx := context.Background()

	gate := make(chan struct{})
	engine.LaunchGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return engine.Launches() == 2 }, time.Second, time.Millisecond)

	_, err := m.CreateSession(ctx)
	var createErr *browser.CreationError
	require.ErrorAs(t, err, &createErr)
	assert.ErrorIs(t, err, browser.ErrCapacityExhausted)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, m.ActiveSessionIDs(), 1)
}

func TestConcurrentCreatesRespectCapacity(t *testing.T) {
	engine := browsertest.New()
	engine.LaunchDelay = time.Millisecond
	m := newManager(t, engine, browser.Options{MaxSessions: 3})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateSession(ctx)
			if err != nil {
				assert.ErrorIs(t, err, browser.ErrCapacityExhausted)
			}
			assert.LessOrEqual(t, len(m.ActiveSessionIDs()), 3)
		}()
	}
	wg.Wait()

	active := m.ActiveSessionIDs()
	assert.LessOrEqual(t, len(active), 3)
	assert.Equal(t, len(active), engine.OpenProcesses(), "every process outside the registry is closed")
}

func TestShutdown(t *testing.T) {
	engine := browsertest.New()
	rec := &closeRecorder{}
	m := browser.NewManager(engine, browser.Options{SweepInterval: time.Hour, OnClose: rec.record})
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	for i := 0; i < 3; i++ {
		_, err := m.CreateSession(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, m.Shutdown(ctx))
	assert.False(t, m.IsInitialized())
	assert.Empty(t, m.ActiveSessionIDs())
	assert.Zero(t, engine.OpenProcesses())
	assert.True(t, engine.Stopped())

	events := rec.all()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, browser.ReasonShutdown, e.reason)
	}

	_, err := m.CreateSession(ctx)
	assert.ErrorIs(t, err, browser.ErrNotInitialized)
}

func TestShutdownJoinsCloseErrors(t *testing.T) {
	engine := browsertest.New()
	m := browser.NewManager(engine, browser.Options{SweepInterval: -1})
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err := m.CreateSession(ctx)
	require.NoError(t, err)
	_, err = m.CreateSession(ctx)
	require.NoError(t, err)

	engine.CloseErr = browsertest.ErrInjected
	err = m.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, browsertest.ErrInjected)
	assert.Empty(t, m.ActiveSessionIDs())
}

func TestShutdownDeadlineWithSlowCloses(t *testing.T) {
	engine := browsertest.New()
	m := browser.NewManager(engine, browser.Options{SweepInterval: -1})
	require.NoError(t, m.Initialize(context.Background()))

	for i := 0; i < 4; i++ {
		_, err := m.CreateSession(context.Background())
		require.NoError(t, err)
	}

	// Every second close outlives the shutdown deadline, the rest fail fast.
	var (
		closes atomic.Int32
		slow   sync.WaitGroup
	)
	slow.Add(2)
	engine.CloseFunc = func(*browsertest.Process) error {
		if closes.Add(1)%2 == 0 {
			defer slow.Done()
			time.Sleep(200 * time.Millisecond)
		}
		return browsertest.ErrInjected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.ActiveSessionIDs())

	slow.Wait()
	assert.Eventually(t, func() bool { return closes.Load() == 4 }, time.Second, time.Millisecond)
}

func TestShutdownDuringCreation(t *testing.T) {
	engine := browsertest.New()
	m := browser.NewManager(engine, browser.Options{SweepInterval: -1})
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	gate := make(chan struct{})
	engine.LaunchGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return engine.Launches() == 2 }, time.Second, time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- m.Shutdown(ctx) }()

	require.Eventually(t, func() bool { return !m.IsInitialized() }, time.Second, time.Millisecond)
	close(gate)

	assert.ErrorIs(t, <-done, browser.ErrNotInitialized)
	require.NoError(t, <-shutdownDone)
	assert.Empty(t, m.ActiveSessionIDs())
	assert.Zero(t, engine.OpenProcesses())
}
