// Package sse streams report events to browser dashboards over Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// ClientBuffer is how many frames may queue for one client before it is dropped.
	ClientBuffer = 16

	// KeepAlive is the interval between comment frames on an idle stream.
	KeepAlive = 30 * time.Second
)

// Event types published by the worker.
const (
	EventConnected     = "connected"
	EventReport        = "report"
	EventReportDeleted = "report_deleted"
)

// Event is the JSON body of one SSE frame.
type Event struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Stats    any    `json:"stats,omitempty"`
}

// Client is one connected event stream.
type Client struct {
	ID   string
	send chan []byte
	// Done is closed when the client is removed.
	Done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	clients   map[string]*Client
	mu        sync.RWMutex
	nextID    int
	keepAlive time.Duration
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		keepAlive: KeepAlive,
	}
}

// AddClient registers a new client.
func (b *Broadcaster) AddClient() *Client {
	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:   fmt.Sprintf("client-%d", b.nextID),
		send: make(chan []byte, ClientBuffer),
		Done: make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client connected")

	return client
}

// RemoveClient unregisters client and closes its Done channel. Safe to call twice.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", count).
		Msg("SSE client disconnected")
}

// Broadcast queues data for every client. A client whose queue is full is dropped
// rather than allowed to stall the others.
func (b *Broadcaster) Broadcast(data any) {
	frame, err := encodeFrame(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}

	b.mu.RLock()
	var slow []*Client
	for _, client := range b.clients {
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range slow {
		log.Warn().Str("clientId", client.ID).Msg("SSE client too slow, dropping")
		b.RemoveClient(client)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE streams events to the requester until it disconnects.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := b.AddClient()
	defer b.RemoveClient(client)

	hello, _ := encodeFrame(Event{Type: EventConnected, ClientID: client.ID})
	if _, err := w.Write(hello); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case frame := <-client.send:
			if _, err := w.Write(frame); err != nil {
				log.Debug().Err(err).Str("clientId", client.ID).Msg("SSE write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func encodeFrame(data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
