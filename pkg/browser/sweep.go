package browser

import (
	"context"
	"time"
)

// runSweeper reclaims idle sessions every SweepInterval until ctx is cancelled.
func (m *Manager) runSweeper(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.log.Infof("reclaimed %d idle sessions", n)
			}
		}
	}
}

// Sweep closes every session idle for longer than IdleTimeout and returns how
// many it closed. Idleness is checked again when each session is detached, so
// a session used after the scan is kept.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	now := m.opts.Clock()
	var candidates []string
	for _, s := range m.orderedLocked() {
		if now.Sub(s.lastUsed) > m.opts.IdleTimeout {
			candidates = append(candidates, s.id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}

		m.mu.Lock()
		s, ok := m.sessions[id]
		if !ok || m.opts.Clock().Sub(s.lastUsed) <= m.opts.IdleTimeout {
			m.mu.Unlock()
			continue
		}
		delete(m.sessions, id)
		m.mu.Unlock()

		m.log.Infof("closing idle session %s (last used %s)", id, s.lastUsed.Format(time.RFC3339))
		if err := m.release(s, ReasonReclaimed); err != nil {
			m.log.Errorf("error closing idle session %s: %v", id, err)
		}
		closed++
	}
	return closed
}
