// Package events broadcasts pipeline progress to WebSocket clients.
//
// Pipelines publish through the Publisher interface; the Hub fans events
// out to every client connected at /ws. Publishing never blocks: when the
// broadcast buffer is full the event is dropped and logged.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Kind defines the type of event
type Kind string

const (
	// KindRunStarted indicates a pipeline run acquired its lock
	KindRunStarted Kind = "run_started"

	// KindRunFinished indicates a pipeline run completed
	KindRunFinished Kind = "run_finished"

	// KindCommitConverted indicates a source commit was mirrored
	KindCommitConverted Kind = "commit_converted"

	// KindCommitFailed indicates a commit-level failure
	KindCommitFailed Kind = "commit_failed"

	// KindSampleDrawn indicates spot-check ids were selected
	KindSampleDrawn Kind = "sample_drawn"

	// KindHolesFlagged indicates new holes were found
	KindHolesFlagged Kind = "holes_flagged"

	// KindTriggerDropped indicates a trigger lost the race for its lock
	KindTriggerDropped Kind = "trigger_dropped"
)

// Event is one broadcast message.
type Event struct {
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage,omitempty"`
	Repo      string    `json:"repo,omitempty"`
	Category  string    `json:"category,omitempty"`
	Commit    string    `json:"commit,omitempty"`
	IDs       []int     `json:"ids,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Recorder keeps published events in memory; used by tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewHub creates a hub and starts its broadcast loop. Call Close to stop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("events"),
	}

	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Publish queues an event for every connected client.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- e:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("type", string(e.Kind)))
	}
}

// Close disconnects all clients and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Debug("client connected", zap.Int("clients", count))

	go h.readLoop(conn)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Debug("failed to send to client", zap.Error(err))
					h.removeClient(conn)
				}
			}
		}
	}
}

// readLoop keeps the connection alive and notices disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; !exists {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("client disconnected", zap.Int("clients", count))
}
