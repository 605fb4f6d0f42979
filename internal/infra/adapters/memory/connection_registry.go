package memory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/application/metric"
	"github.com/classmesh/classmesh/internal/domain/events"
)

// ConnWriter delivers one event to one connection. Implementations must be
// safe for concurrent use and preserve call order (per-sender FIFO).
type ConnWriter interface {
	WriteEvent(msg events.Message) error
}

// ConnectionRegistry tracks the writer for every live connection.
type ConnectionRegistry interface {
	Add(connID string, w ConnWriter)
	Remove(connID string)

	// Write delivers to one connection. Returns false when the connection is
	// gone; callers treat that as a silent drop.
	Write(connID string, msg events.Message) bool
}

type connectionRegistry struct {
	writers map[string]ConnWriter
	mu      sync.RWMutex
}

func NewConnectionRegistry() ConnectionRegistry {
	return &connectionRegistry{
		writers: make(map[string]ConnWriter),
	}
}

func (r *connectionRegistry) Add(connID string, w ConnWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writers[connID] = w

	metric.IncrementWSActiveConnections()
}

func (r *connectionRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.writers[connID]; exists {
		delete(r.writers, connID)

		metric.DecrementWSActiveConnections()
	}
}

func (r *connectionRegistry) Write(connID string, msg events.Message) bool {
	r.mu.RLock()
	w, ok := r.writers[connID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := w.WriteEvent(msg); err != nil {
		slog.Error(
			"write to websocket",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, connID),
			slog.String(constant.Event, msg.Type),
		)
	}

	return true
}

// safeWS serializes writes on one socket; gorilla allows only one
// concurrent writer.
type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebsocketWriter(conn *websocket.Conn) ConnWriter {
	return &safeWS{conn: conn}
}

func (w *safeWS) WriteEvent(msg events.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.conn.WriteJSON(msg)
}
