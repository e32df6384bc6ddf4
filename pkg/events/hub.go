package events

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/browserd/pkg/logging"
)

// ErrSubscriberNotFound is returned by Send and Comment for an unknown or removed subscriber.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// connectedFrame is written to every new subscriber.
var connectedFrame = FormatComment("connected")

// Sink receives encoded frames. A write error removes the subscriber.
// Sinks that also implement io.Closer are closed on removal.
type Sink interface {
	WriteFrame(frame []byte) error
}

type subscriber struct {
	id    string
	seq   uint64
	sink  Sink
	done  chan struct{}
	close sync.Once
}

// Hub fans events out to an unbounded set of subscribers.
//
// All sink writes are serialized by sendMu, so every subscriber sees
// broadcasts in call order. The subscriber registry has its own lock and is
// never held during a write.
type Hub struct {
	log *logging.Logger

	sendMu  sync.Mutex
	eventID uint64

	mu      sync.RWMutex
	subs    map[string]*subscriber
	subSeq  uint64
	closedC chan struct{}
}

// NewHub creates an empty hub. A nil logger discards output.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	closed := make(chan struct{})
	close(closed)
	return &Hub{
		log:     logger.Component("events"),
		subs:    make(map[string]*subscriber),
		closedC: closed,
	}
}

// AddSubscriber registers sink, writes the connected comment, and returns the
// new subscriber id. If that first write fails the subscriber is already
// removed when this returns.
func (h *Hub) AddSubscriber(sink Sink) string {
	s := &subscriber{
		id:   uuid.New().String(),
		sink: sink,
		done: make(chan struct{}),
	}

	// The connected comment goes out before any broadcast can reach the sink.
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	h.subSeq++
	s.seq = h.subSeq
	h.subs[s.id] = s
	total := len(h.subs)
	h.mu.Unlock()

	h.log.Infof("subscriber %s connected (%d total)", s.id, total)
	_ = h.write(s, connectedFrame)
	return s.id
}

// RemoveSubscriber detaches a subscriber. It reports whether the id was
// registered. Once it returns no further frames are written to the sink.
func (h *Hub) RemoveSubscriber(id string) bool {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return h.removeLocked(id)
}

// removeLocked must be called with sendMu held.
func (h *Hub) removeLocked(id string) bool {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	total := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return false
	}
	h.finish(s)
	h.log.Infof("subscriber %s removed (%d remaining)", id, total)
	return true
}

// Broadcast sends e to every subscriber. Events without an ID take the next
// value of the hub's sequence, starting at 1. Subscribers whose sink fails
// are removed; the rest still receive the event.
func (h *Hub) Broadcast(e Event) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	if e.ID == "" {
		h.eventID++
		e.ID = strconv.FormatUint(h.eventID, 10)
	}
	frame, err := Format(e)
	if err != nil {
		return err
	}

	subs := h.snapshot()
	for _, s := range subs {
		_ = h.write(s, frame)
	}
	h.log.Debugf("broadcast %s #%s to %d subscribers", e.Type, e.ID, len(subs))
	return nil
}

// Send writes e to one subscriber. The event id is left as given.
func (h *Hub) Send(id string, e Event) error {
	frame, err := Format(e)
	if err != nil {
		return err
	}
	return h.sendFrame(id, frame)
}

// Comment writes an SSE comment frame to one subscriber. It is used for heartbeats.
func (h *Hub) Comment(id, text string) error {
	return h.sendFrame(id, FormatComment(text))
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Done returns a channel closed when the subscriber is removed. Unknown ids
// get an already closed channel.
func (h *Hub) Done(id string) <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.subs[id]; ok {
		return s.done
	}
	return h.closedC
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		h.finish(s)
	}
	if len(subs) > 0 {
		h.log.Infof("closed %d subscribers", len(subs))
	}
}

func (h *Hub) sendFrame(id string, frame []byte) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return ErrSubscriberNotFound
	}
	return h.write(s, frame)
}

// write must be called with sendMu held. A subscriber removed after the
// caller's snapshot is skipped; a failed write removes the subscriber.
func (h *Hub) write(s *subscriber, frame []byte) error {
	h.mu.RLock()
	cur, ok := h.subs[s.id]
	h.mu.RUnlock()
	if !ok || cur != s {
		return ErrSubscriberNotFound
	}

	if err := s.sink.WriteFrame(frame); err != nil {
		h.log.Warnf("write to subscriber %s failed, removing: %v", s.id, err)
		h.removeLocked(s.id)
		return fmt.Errorf("write to subscriber %s: %w", s.id, err)
	}
	return nil
}

func (h *Hub) finish(s *subscriber) {
	s.close.Do(func() {
		close(s.done)
		if c, ok := s.sink.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

func (h *Hub) snapshot() []*subscriber {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}
