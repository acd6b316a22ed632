package client

import "sync"

// Roster is the client's view of who is online, in server order.
type Roster struct {
	mu    sync.RWMutex
	names []string
}

// Replace swaps in a full snapshot. Empty names are dropped.
func (r *Roster) Replace(names []string) {
	next := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			next = append(next, name)
		}
	}
	r.mu.Lock()
	r.names = next
	r.mu.Unlock()
}

// Remove deletes the first entry equal to name and reports whether one
// was found.
func (r *Roster) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns a copy of the roster.
func (r *Roster) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Contains reports whether name is online.
func (r *Roster) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
