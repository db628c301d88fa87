package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/logmet/logmet-go/internal/ids"
	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/server/internal/api"
	"github.com/logmet/logmet-go/server/internal/auth"
	"github.com/logmet/logmet-go/server/internal/store"
)

const (
	writeTimeout = 10 * time.Second

	// A client that misses pongs for pongWait is dropped. pingPeriod must
	// stay below it.
	pongWait   = time.Minute
	pingPeriod = pongWait * 9 / 10

	// sendBufSize is how many batches may queue for a slow client before it
	// is disconnected.
	sendBufSize = 16

	// maxClientFrame bounds frames read from clients, which only send
	// control frames.
	maxClientFrame = 512

	// batchLimit caps the documents scanned per client per tick; the rest
	// follow on later ticks.
	batchLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Any origin; the stream is token-authenticated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`

	// Cursor is the ID of the last document the client has been sent; pass
	// it back as ?since= to resume after a reconnect.
	Cursor string    `json:"cursor"`
	Data   []api.Hit `json:"data"`
}

// Hub streams newly stored documents to WebSocket clients. Each client sees
// only its own tenant's documents, or every tenant's for a supertenant.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client. cursor is only touched
// by the broadcast loop once the client is registered.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	id     auth.Identity
	cursor string
}

// New creates a Hub that reads from st and broadcasts every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the broadcast ticker loop. Run blocks until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The caller must authenticate the request first (auth.Verifier.Middleware).
// ?since=<document id> replays everything after that document; otherwise
// the stream starts with the next document stored. The first message is
// sent immediately and carries the starting cursor.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	cursor := r.URL.Query().Get("since")
	if cursor != "" {
		if _, err := ids.Time(cursor); err != nil {
			http.Error(w, "since: not a document id", http.StatusBadRequest)
			return
		}
	} else {
		cursor = h.store.Latest()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		id:     id,
		cursor: cursor,
	}
	// The first batch is built before registering so that the broadcast
	// loop never sees the cursor move underneath it.
	if data, ok := h.nextBatch(c, true); ok {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)
	slog.Debug("ws: client connected", "tenant_id", id.TenantID, "cursor", c.cursor)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister drops c and closes its queue, which ends its writePump. It is
// safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) broadcast() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		data, ok := h.nextBatch(c, false)
		if !ok {
			continue
		}
		h.mu.RLock()
		_, live := h.clients[c]
		if live {
			select {
			case c.send <- data:
			default:
				live = false
			}
		}
		h.mu.RUnlock()
		if !live {
			// Client's outgoing buffer is full or it already left.
			h.unregister(c)
		}
	}
}

// nextBatch advances c's cursor over the documents stored since, keeping
// those visible to c. It reports false when there is nothing to send,
// unless always is set.
func (h *Hub) nextBatch(c *client, always bool) ([]byte, bool) {
	docs := h.store.Since(c.cursor, batchLimit)
	hits := make([]api.Hit, 0, len(docs))
	for _, d := range docs {
		if c.id.SuperTenant || d.TenantID == c.id.TenantID {
			hits = append(hits, api.ToHit(d))
		}
	}
	if len(docs) > 0 {
		c.cursor = docs[len(docs)-1].ID
	}
	if len(hits) == 0 && !always {
		return nil, false
	}
	data, err := jsoncodec.Marshal(Message{Event: "documents", Cursor: c.cursor, Data: hits})
	if err != nil {
		slog.Error("ws: encode message", "err", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) write(kind int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, payload)
}

// writePump forwards queued batches and pings until send is closed or a
// write fails.
func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			slog.Debug("ws: write failed", "tenant_id", c.id.TenantID, "err", err)
			return
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh on
// pongs. It returns when the connection drops.
func (c *client) readPump() {
	defer c.conn.Close()
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	c.conn.SetReadLimit(maxClientFrame)
	_ = extend("")
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
