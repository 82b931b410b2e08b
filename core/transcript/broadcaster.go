package transcript

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Broadcaster streams entries as JSON to websocket clients. A client that
// connects late first receives everything published so far; a client that
// falls behind is dropped.
type Broadcaster struct {
	mu      sync.Mutex
	history []Entry
	clients map[*client]struct{}
	closed  bool

	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan Entry
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (b *Broadcaster) Publish(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.history = append(b.history, entry)
	for c := range b.clients {
		select {
		case c.send <- entry:
		default:
			logger.Warn("transcript client too slow, dropping it")
			b.removeLocked(c)
			_ = c.conn.Close()
		}
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade transcript connection", "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan Entry, clientBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	replay := slices.Clone(b.history)
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go b.write(c, replay)

	// Clients never send anything meaningful; reading only notices them
	// leaving.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	b.mu.Lock()
	b.removeLocked(c)
	b.mu.Unlock()
}

func (b *Broadcaster) write(c *client, replay []Entry) {
	for _, entry := range replay {
		if err := b.writeEntry(c.conn, entry); err != nil {
			_ = c.conn.Close()
			return
		}
	}
	for entry := range c.send {
		if err := b.writeEntry(c.conn, entry); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

func (b *Broadcaster) writeEntry(conn *websocket.Conn, entry Entry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(entry); err != nil {
		logger.Debug("failed to write transcript entry", "error", err)
		return err
	}
	return nil
}

func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	close(c.send)
}

func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client and ignores later entries.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for c := range b.clients {
		b.removeLocked(c)
		_ = c.conn.Close()
	}
}
