package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/browserd/pkg/logging"
)

// Manager is a bounded registry of browser sessions and their pages.
//
// Registry bookkeeping happens under mu. Engine calls (launch, navigate,
// screenshot, content, close) always run outside it, so a slow browser never
// blocks lookups on other sessions.
type Manager struct {
	engine Engine
	opts   Options
	log    *logging.Logger

	// lifecycle serializes Initialize and Shutdown.
	lifecycle sync.Mutex

	mu          sync.Mutex
	sessions    map[string]*session
	pending     int
	seq         uint64
	initialized bool
	lastStamp   time.Time

	inflight  sync.WaitGroup
	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// NewManager creates a manager backed by engine. Call Initialize before use.
func NewManager(engine Engine, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		engine:   engine,
		opts:     opts,
		log:      opts.Logger.Component("pool"),
		sessions: make(map[string]*session),
	}
}

// Initialize probes the engine by launching and closing one browser, then
// starts the idle sweep. Calling it on an initialized manager is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.IsInitialized() {
		return nil
	}

	m.log.Infof("probing browser engine")
	proc, err := m.engine.Launch(ctx)
	if err != nil {
		return &InitializationError{Err: err}
	}
	if err := proc.Close(); err != nil {
		m.log.Warnf("failed to close probe browser: %v", err)
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	if m.opts.SweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		m.stopSweep = cancel
		m.sweepDone = done
		go m.runSweeper(sweepCtx, done)
	}

	m.log.Infof("browser pool ready (max %d sessions, idle timeout %s)", m.opts.MaxSessions, m.opts.IdleTimeout)
	return nil
}

// IsInitialized reports whether the pool is accepting traffic.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// CreateSession launches a new browser and returns its id. At capacity the
// session with the oldest last activity is closed first.
func (m *Manager) CreateSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return "", ErrNotInitialized
	}

	var victim *session
	if len(m.sessions)+m.pending >= m.opts.MaxSessions {
		victim = m.oldestLocked()
		if victim == nil {
			m.mu.Unlock()
			return "", &CreationError{Err: ErrCapacityExhausted}
		}
		delete(m.sessions, victim.id)
	}
	m.pending++
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	if victim != nil {
		m.log.Infof("pool at capacity, evicting session %s (last used %s)", victim.id, victim.lastUsed.Format(time.RFC3339))
		if err := m.release(victim, ReasonEvicted); err != nil {
			m.log.Warnf("error closing evicted session %s: %v", victim.id, err)
		}
	}

	proc, err := m.engine.Launch(ctx)

	m.mu.Lock()
	m.pending--
	if err != nil {
		m.mu.Unlock()
		return "", &CreationError{Err: err}
	}
	if !m.initialized {
		m.mu.Unlock()
		if cerr := proc.Close(); cerr != nil {
			m.log.Warnf("failed to close browser launched during shutdown: %v", cerr)
		}
		return "", ErrNotInitialized
	}

	m.seq++
	now := m.stampLocked()
	s := &session{
		id:       uuid.New().String(),
		seq:      m.seq,
		process:  proc,
		pages:    make(map[string]*page),
		created:  now,
		lastUsed: now,
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Infof("created session %s", s.id)
	return s.id, nil
}

// CloseSession releases a session's browser. The id is invalid afterwards even
// when the close itself fails.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return sessionNotFound(id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := m.release(s, ReasonClosed); err != nil {
		return &OperationError{Op: "close session", SessionID: id, Err: err}
	}
	m.log.Infof("closed session %s", id)
	return nil
}

// CreatePage opens a new tab in the session and returns its id.
func (m *Manager) CreatePage(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", sessionNotFound(sessionID)
	}
	s.lastUsed = m.stampLocked()
	proc := s.process
	m.mu.Unlock()

	handle, err := proc.NewPage(ctx, PageOptions{
		NavigationTimeout: m.opts.NavigationTimeout,
		DefaultTimeout:    m.opts.DefaultTimeout,
	})
	if err != nil {
		m.mu.Lock()
		cur, ok := m.sessions[sessionID]
		m.mu.Unlock()
		if !ok || cur != s {
			return "", sessionNotFound(sessionID)
		}
		return "", &OperationError{Op: "create page", SessionID: sessionID, Err: err}
	}

	m.mu.Lock()
	if cur, ok := m.sessions[sessionID]; !ok || cur != s {
		m.mu.Unlock()
		_ = handle.Close()
		return "", sessionNotFound(sessionID)
	}
	p := &page{id: uuid.New().String(), handle: handle}
	s.pages[p.id] = p
	s.lastUsed = m.stampLocked()
	m.mu.Unlock()

	m.log.Debugf("created page %s in session %s", p.id, sessionID)
	return p.id, nil
}

// Navigate loads url in the page and waits for the network to go idle.
// A failed navigation leaves the page usable.
func (m *Manager) Navigate(ctx context.Context, sessionID, pageID, url string) error {
	p, err := m.touchPage(sessionID, pageID)
	if err != nil {
		return err
	}
	defer m.touch(sessionID)

	m.log.Debugf("navigating page %s to %s", pageID, url)
	if err := p.handle.Navigate(ctx, url); err != nil {
		return &OperationError{Op: "navigate", SessionID: sessionID, PageID: pageID, Err: err}
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (m *Manager) Screenshot(ctx context.Context, sessionID, pageID string) ([]byte, error) {
	p, err := m.touchPage(sessionID, pageID)
	if err != nil {
		return nil, err
	}
	defer m.touch(sessionID)

	data, err := p.handle.Screenshot(ctx)
	if err != nil {
		return nil, &OperationError{Op: "screenshot", SessionID: sessionID, PageID: pageID, Err: err}
	}
	return data, nil
}

// Content returns the page's serialized document.
func (m *Manager) Content(ctx context.Context, sessionID, pageID string) (string, error) {
	p, err := m.touchPage(sessionID, pageID)
	if err != nil {
		return "", err
	}
	defer m.touch(sessionID)

	html, err := p.handle.Content(ctx)
	if err != nil {
		return "", &OperationError{Op: "get content", SessionID: sessionID, PageID: pageID, Err: err}
	}
	return html, nil
}

// ClosePage closes one tab. The page id is invalid afterwards even when the
// close fails.
func (m *Manager) ClosePage(ctx context.Context, sessionID, pageID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return sessionNotFound(sessionID)
	}
	p, ok := s.pages[pageID]
	if !ok {
		m.mu.Unlock()
		return pageNotFound(sessionID, pageID)
	}
	delete(s.pages, pageID)
	s.lastUsed = m.stampLocked()
	m.mu.Unlock()

	if err := p.handle.Close(); err != nil {
		return &OperationError{Op: "close page", SessionID: sessionID, PageID: pageID, Err: err}
	}
	m.log.Debugf("closed page %s in session %s", pageID, sessionID)
	return nil
}

// ActiveSessionIDs returns the live session ids in creation order.
func (m *Manager) ActiveSessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.orderedLocked()
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.id
	}
	return ids
}

// Sessions returns a snapshot of every live session in creation order.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.orderedLocked()
	infos := make([]SessionInfo, len(ordered))
	for i, s := range ordered {
		infos[i] = SessionInfo{
			ID:         s.id,
			Pages:      len(s.pages),
			CreatedAt:  s.created,
			LastUsedAt: s.lastUsed,
		}
	}
	return infos
}

// Shutdown stops accepting traffic, stops the sweep and closes every session
// concurrently. Creations still in flight discard their browser. If the
// engine holds a driver it is stopped last.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.initialized = false
	stop, done := m.stopSweep, m.sweepDone
	m.stopSweep, m.sweepDone = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	m.mu.Lock()
	detached := m.orderedLocked()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	m.log.Infof("shutting down browser pool (%d sessions)", len(detached))

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)
	// Releases still running after ctx expires keep appending.
	addErr := func(err error) {
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
	}
	for _, s := range detached {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			if err := m.release(s, ReasonShutdown); err != nil {
				addErr(fmt.Errorf("session %s: %w", s.id, err))
			}
		}(s)
	}

	if err := waitGroup(ctx, &wg); err != nil {
		addErr(err)
	}
	if err := waitGroup(ctx, &m.inflight); err != nil {
		addErr(err)
	}

	if closer, ok := m.engine.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			addErr(fmt.Errorf("failed to stop browser engine: %w", err))
		}
	}

	errsMu.Lock()
	defer errsMu.Unlock()
	return errors.Join(errs...)
}

// release closes a session that is already detached from the registry.
func (m *Manager) release(s *session, reason CloseReason) error {
	err := s.process.Close()
	if m.opts.OnClose != nil {
		m.opts.OnClose(s.id, reason)
	}
	return err
}

func (m *Manager) touchPage(sessionID, pageID string) (*page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	p, ok := s.pages[pageID]
	if !ok {
		return nil, pageNotFound(sessionID, pageID)
	}
	s.lastUsed = m.stampLocked()
	return p, nil
}

func (m *Manager) touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.lastUsed = m.stampLocked()
	}
}

// stampLocked returns the current time, never earlier than a previous stamp.
func (m *Manager) stampLocked() time.Time {
	now := m.opts.Clock()
	if now.After(m.lastStamp) {
		m.lastStamp = now
	}
	return m.lastStamp
}

// oldestLocked picks the eviction victim: oldest last activity, then lowest
// creation sequence.
func (m *Manager) oldestLocked() *session {
	var victim *session
	for _, s := range m.sessions {
		if victim == nil ||
			s.lastUsed.Before(victim.lastUsed) ||
			(s.lastUsed.Equal(victim.lastUsed) && s.seq < victim.seq) {
			victim = s
		}
	}
	return victim
}

func (m *Manager) orderedLocked() []*session {
	ordered := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	return ordered
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}
