package browser

import (
	"time"

	"github.com/entrhq/browserd/pkg/logging"
)

const (
	// DefaultMaxSessions is the number of concurrent browser processes.
	DefaultMaxSessions = 5

	// DefaultIdleTimeout is how long a session may go untouched before the sweep reclaims it.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultSweepInterval is the period of the idle sweep.
	DefaultSweepInterval = time.Minute

	// DefaultNavigationTimeout bounds a single navigation.
	DefaultNavigationTimeout = 60 * time.Second

	// DefaultOperationTimeout bounds every other page operation.
	DefaultOperationTimeout = 30 * time.Second
)

// CloseReason says why a session left the pool.
type CloseReason string

const (
	ReasonClosed    CloseReason = "closed"
	ReasonEvicted   CloseReason = "evicted"
	ReasonReclaimed CloseReason = "reclaimed"
	ReasonShutdown  CloseReason = "shutdown"
)

// Options configures a Manager. Zero values take the package defaults.
type Options struct {
	MaxSessions       int
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	NavigationTimeout time.Duration
	DefaultTimeout    time.Duration

	Logger *logging.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// OnClose is called after a session's process has been released.
	// It runs outside the manager lock and must not block for long.
	OnClose func(sessionID string, reason CloseReason)
}

func (o Options) withDefaults() Options {
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.SweepInterval < 0 {
		o.SweepInterval = 0
	} else if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultOperationTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ID         string    `json:"browserId"`
	Pages      int       `json:"pages"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// session owns one browser process and its pages.
type session struct {
	id       string
	seq      uint64
	process  Process
	pages    map[string]*page
	created  time.Time
	lastUsed time.Time
}

type page struct {
	id     string
	handle PageHandle
}
