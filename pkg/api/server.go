// Package api serves the browser pool and the event feed over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/events"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/urlpolicy"
)

// Pool is the subset of *browser.Manager the handlers use.
type Pool interface {
	CreateSession(ctx context.Context) (string, error)
	CloseSession(ctx context.Context, id string) error
	CreatePage(ctx context.Context, sessionID string) (string, error)
	Navigate(ctx context.Context, sessionID, pageID, url string) error
	Screenshot(ctx context.Context, sessionID, pageID string) ([]byte, error)
	Content(ctx context.Context, sessionID, pageID string) (string, error)
	ClosePage(ctx context.Context, sessionID, pageID string) error
	ActiveSessionIDs() []string
	Sessions() []browser.SessionInfo
	IsInitialized() bool
}

// Options configures a Server.
type Options struct {
	// BasePath prefixes every route except /health, e.g. "/puppeteer-service".
	BasePath    string
	CORSOrigins []string

	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	// Policy restricts navigation targets. Nil checks URL format only.
	Policy *urlpolicy.Policy

	Logger  *logging.Logger
	Version string
}

// Server holds the HTTP handlers.
type Server struct {
	pool     Pool
	hub      *events.Hub
	opts     Options
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a server over pool and hub.
func NewServer(pool Pool, hub *events.Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := &Server{
		pool: pool,
		hub:  hub,
		opts: opts,
		log:  opts.Logger.Component("api"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.corsMiddleware())

	r.GET("/health", s.Health)

	s.RegisterRoutes(r.Group(s.opts.BasePath))
	return r
}

// RegisterRoutes registers the browser and event routes on a router group.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/start", s.Start)
	rg.POST("/stop", s.Stop)
	rg.POST("/test", s.Test)

	rg.GET("/browsers", s.ListBrowsers)
	rg.DELETE("/browsers/:browserId", s.CloseBrowser)
	rg.POST("/browsers/:browserId/pages", s.CreatePage)
	rg.POST("/browsers/:browserId/pages/:pageId/navigate", s.Navigate)
	rg.GET("/browsers/:browserId/pages/:pageId/screenshot", s.Screenshot)
	rg.GET("/browsers/:browserId/pages/:pageId/content", s.Content)
	rg.DELETE("/browsers/:browserId/pages/:pageId", s.ClosePage)

	rg.GET("/events", s.Events)
	rg.GET("/events/ws", s.EventsWebSocket)
	rg.POST("/events/test", s.TestEvent)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Infof("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// corsMiddleware allows the configured origins. "*" allows any origin.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.opts.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.allowedOrigin(origin) != ""
}

// broadcast publishes an event, logging instead of failing the request.
func (s *Server) broadcast(eventType string, data any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Broadcast(events.Event{Type: eventType, Data: data}); err != nil {
		s.log.Warnf("failed to broadcast %s: %v", eventType, err)
	}
}
