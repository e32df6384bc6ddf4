package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/entrhq/browserd/pkg/events"
)

// Events handles GET /events, an SSE stream of every broadcast. The handler
// stays open until the client leaves or the hub drops the subscriber.
func (s *Server) Events(c *gin.Context) {
	sink := events.NewHTTPSink(c.Writer, s.opts.WriteTimeout)
	if err := sink.WriteHeaders(); err != nil {
		s.log.Warnf("failed to start event stream: %v", err)
		return
	}

	id := s.hub.AddSubscriber(sink)
	defer s.hub.RemoveSubscriber(id)

	var heartbeat <-chan time.Time
	if s.opts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	done := s.hub.Done(id)
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-heartbeat:
			if err := s.hub.Comment(id, "heartbeat"); err != nil {
				return
			}
		}
	}
}

// EventsWebSocket handles GET /events/ws. Frames are the same SSE-encoded
// text, one per message. Incoming messages are read and discarded so close
// frames are noticed.
func (s *Server) EventsWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	id := s.hub.AddSubscriber(events.NewWebSocketSink(conn, s.opts.WriteTimeout))
	defer s.hub.RemoveSubscriber(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("websocket subscriber %s read error: %v", id, err)
			}
			return
		}
	}
}

// TestEventRequest is the optional body of POST /events/test.
type TestEventRequest struct {
	Message string `json:"message"`
}

// TestEvent handles POST /events/test by broadcasting a test event.
func (s *Server) TestEvent(c *gin.Context) {
	var req TestEventRequest
	_ = c.ShouldBindJSON(&req)
	if req.Message == "" {
		req.Message = "Test event"
	}

	payload := gin.H{"message": req.Message, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if err := s.hub.Broadcast(events.Event{Type: events.TypeTest, Data: payload}); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to broadcast event: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Test event sent",
		"subscribers": s.hub.SubscriberCount(),
	})
}
