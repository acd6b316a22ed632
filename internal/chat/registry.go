package chat

import (
	"sync"

	apperrors "github.com/omochice/roster-chat/internal/errors"
	"github.com/omochice/roster-chat/pkg/protocol"
)

// Registry is the authoritative set of live connections.
// Order of insertion is kept so roster snapshots are stable.
type Registry struct {
	mu    sync.RWMutex
	order []*Connection
	byID  map[string]*Connection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Connection),
	}
}

// Add inserts a freshly accepted connection. Adding the same connection
// twice is a no-op.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.id]; ok {
		return
	}
	r.byID[c.id] = c
	r.order = append(r.order, c)
}

// SetAccount binds name to c, making it visible in later snapshots.
func (r *Registry) SetAccount(c *Connection, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.setAccount(name)
}

// Join answers a connect request: it queues the list reply built from the
// current roster, then binds name to c. Both happen under the registry
// lock, so no broadcast can slip in between and the roster sent never
// contains c itself.
func (r *Registry) Join(c *Connection, name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := c.Account(); ok {
		return nil, c.setAccount(name)
	}
	roster := r.snapshotLocked()
	if err := c.enqueue(protocol.Encode(protocol.CommandList, roster...)); err != nil {
		return nil, err
	}
	if err := c.setAccount(name); err != nil {
		return nil, err
	}
	return roster, nil
}

// Remove deletes c and reports whether it was present.
// Safe to call any number of times.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.id]; !ok {
		return false
	}
	delete(r.byID, c.id)
	for i, entry := range r.order {
		if entry == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns registered account names in registry order.
// Connections still handshaking are excluded.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	roster := make([]string, 0, len(r.order))
	for _, c := range r.order {
		if account, ok := c.Account(); ok {
			roster = append(roster, account)
		}
	}
	return roster
}

// Broadcast queues data on every registered connection except exclude and
// returns the connections that could not take it because their queue was
// full. Connections still handshaking are skipped so their first frame is
// always the list reply.
func (r *Registry) Broadcast(data []byte, exclude *Connection) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stalled []*Connection
	for _, c := range r.order {
		if c == exclude {
			continue
		}
		if _, ok := c.Account(); !ok {
			continue
		}
		if err := c.enqueue(data); apperrors.IsCode(err, apperrors.CodeQueueFull) {
			stalled = append(stalled, c)
		}
	}
	return stalled
}

// Get returns the connection with the given ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// FindAccount returns the first connection registered as name.
func (r *Registry) FindAccount(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.order {
		if account, ok := c.Account(); ok && account == name {
			return c, true
		}
	}
	return nil, false
}

// Connections returns a copy of all live connections in registry order.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of live connections, registered or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
