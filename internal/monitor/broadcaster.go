package monitor

import (
	"sync"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// fanout delivers values to subscribers over buffered channels and drops for
// clients that fall behind.
type fanout[T any] struct {
	name   string
	buffer int

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	latest  T
	hasLast bool
	closed  bool
}

func newFanout[T any](name string, buffer int) *fanout[T] {
	return &fanout[T]{
		name:    name,
		buffer:  buffer,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client. The latest value, if any, is queued immediately.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, f.buffer)
	if f.closed {
		close(ch)
		return id, ch
	}
	if f.hasLast {
		ch <- f.latest
	}
	f.clients[id] = ch

	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// Broadcast sends v to every client without blocking.
func (f *fanout[T]) Broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = v
	f.hasLast = true
	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

// Latest returns the most recent broadcast value.
func (f *fanout[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.hasLast
}

// Count returns the number of subscribed clients.
func (f *fanout[T]) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client; later subscribers get a closed channel.
func (f *fanout[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
}

// AlertBroadcaster fans alert summaries out to SSE and WebSocket clients.
type AlertBroadcaster struct {
	*fanout[*SerializedEvent]
}

// NewAlertBroadcaster creates an alert broadcaster.
func NewAlertBroadcaster() *AlertBroadcaster {
	return &AlertBroadcaster{newFanout[*SerializedEvent]("AlertBroadcaster", 4)}
}

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients.
type FrameBroadcaster struct {
	*fanout[[]byte]
}

// NewFrameBroadcaster creates a frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{newFanout[[]byte]("FrameBroadcaster", 2)}
}
