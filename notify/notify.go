// Package notify carries supervisor notifications to the UI and persistence
// collaborators.
//
// Sinks are called while the supervisor holds its session lock, so Notify
// must not block and must not call back into the supervisor. Bus satisfies
// this by fanning out to buffered subscriber channels and dropping on a full
// buffer.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags a Notification.
type Kind string

// Notification kinds.
const (
	KindSessionCreated     Kind = "session-created"
	KindSessionUpdated     Kind = "session-updated"
	KindSessionDeleted     Kind = "session-deleted"
	KindSessionState       Kind = "session-state-update"
	KindStats              Kind = "stats"
	KindMessage            Kind = "message"
	KindMessageUpdate      Kind = "message-update"
	KindStopped            Kind = "stopped"
	KindError              Kind = "error"
	KindPermission         Kind = "permission"
	KindPermissionResolved Kind = "permission-resolved"
)

// Notification is one upward event. Payload is a JSON-encodable value whose
// type depends on Kind: a session snapshot, a message, stats, or a
// permission request.
type Notification struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f.
func (f SinkFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// Multi sends every notification to each sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(n Notification) {
		for _, s := range sinks {
			s.Notify(n)
		}
	})
}

// Bus fans notifications out to subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[chan Notification]string // channel -> session filter ("" = all)
	depth   int
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewBus constructs a Bus whose subscribers buffer depth notifications.
func NewBus(depth int, logger *slog.Logger) *Bus {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[chan Notification]string),
		depth:  depth,
		logger: logger,
	}
}

// Subscribe registers a subscriber. An empty sessionID receives every
// session's notifications. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(sessionID string) (<-chan Notification, func()) {
	ch := make(chan Notification, b.depth)
	b.mu.Lock()
	b.subs[ch] = sessionID
	count := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("notify subscribe", "session", sessionID, "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.logger.Debug("notify unsubscribe", "session", sessionID)
		})
	}
}

// Notify publishes without blocking. Subscribers with a full buffer miss the
// notification.
func (b *Bus) Notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, filter := range b.subs {
		if filter != "" && filter != n.SessionID {
			continue
		}
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were dropped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
