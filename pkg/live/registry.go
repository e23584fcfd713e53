// Package live tracks the open duplex channel of each connected identity.
package live

import "sync"

// Conn is a message-framed duplex channel. Send may be called concurrently
// with Receive; Close must be idempotent.
type Conn interface {
	Receive() (string, error)
	Send(frame string) error
	Close() error
}

// Registry maps an identity to its current channel. At most one entry exists
// per identity and the last connect wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Conn)}
}

// Put installs conn for identity. A previous entry is closed after the lock
// is released and reported through replaced.
func (r *Registry) Put(identity string, conn Conn) (replaced bool) {
	r.mu.Lock()
	prev, ok := r.entries[identity]
	r.entries[identity] = conn
	r.mu.Unlock()

	if ok && prev != conn {
		_ = prev.Close()
		return true
	}
	return false
}

// Get returns the channel for identity, if connected.
func (r *Registry) Get(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.entries[identity]
	return conn, ok
}

// Remove drops whatever entry identity has. It reports whether an entry
// existed and is safe to call repeatedly.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Detach removes identity only while conn is still its entry. Teardown of a
// superseded channel therefore never evicts the connection that replaced it.
func (r *Registry) Detach(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[identity]; !ok || cur != conn {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Len returns the number of connected identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Push sends frame to identity's channel when one is registered. A failed
// send detaches and closes that channel; nothing is retried.
func (r *Registry) Push(identity, frame string) (delivered bool, err error) {
	conn, ok := r.Get(identity)
	if !ok {
		return false, nil
	}
	if err := conn.Send(frame); err != nil {
		if r.Detach(identity, conn) {
			_ = conn.Close()
		}
		return false, err
	}
	return true, nil
}
