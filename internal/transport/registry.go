package transport

import (
	"sync"

	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/session"
)

// Registry maps connection IDs to live connections. It is the broker's
// Sender: the broker only ever sees IDs, the registry resolves them to
// sockets at delivery time.
type Registry struct {
	mu     sync.RWMutex
	lastID uint64
	conns  map[session.ConnID]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[session.ConnID]*Conn)}
}

// register assigns the connection its ID. IDs start at 1 and are never
// reused, so a stale ID simply resolves to nothing.
func (r *Registry) register(c *Conn) session.ConnID {
	r.mu.Lock()
	r.lastID++
	id := session.ConnID(r.lastID)
	c.id = id
	r.conns[id] = c
	r.mu.Unlock()
	obs.ActiveConnections.Inc()
	return id
}

func (r *Registry) remove(id session.ConnID) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		obs.ActiveConnections.Dec()
	}
}

// Send implements broker.Sender. A missing ID means the connection closed
// between the event being queued and delivered; that is a normal race and
// reported as a failed send.
func (r *Registry) Send(id session.ConnID, payload []byte) bool {
	r.mu.RLock()
	c := r.conns[id]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.Send(payload)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll shuts down every connection. Upgraded sockets are hijacked from
// the HTTP server, so graceful shutdown has to close them explicitly.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
}

// ActiveSources reports which client addresses still hold connections,
// for pruning idle rate limiter state.
func (r *Registry) ActiveSources() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.conns))
	for _, c := range r.conns {
		out[c.source] = true
	}
	return out
}
