package relay

import (
	"fmt"
	"math/rand"
	"sync"
)

// ColorSource returns a 24-bit RGB value. Bits above the low 24 are ignored.
type ColorSource func() uint32

// Identity is the per-connection metadata held by the registry.
type Identity struct {
	Username *string
	Color    string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithColorSource replaces the random color generator.
func WithColorSource(src ColorSource) RegistryOption {
	return func(r *Registry) {
		if src != nil {
			r.colorSource = src
		}
	}
}

// Registry tracks the open connections and their identity. All methods are
// safe for concurrent use and every mutation is atomic with respect to the
// snapshot methods.
type Registry struct {
	mu          sync.RWMutex
	entries     map[Conn]*Identity
	order       []Conn
	colorSource ColorSource
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:     make(map[Conn]*Identity),
		colorSource: randomColor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomColor() uint32 {
	return uint32(rand.Int31n(1 << 24))
}

func formatColor(rgb uint32) string {
	return fmt.Sprintf("#%06x", rgb&0xffffff)
}

// Register adds conn with no username and no color. Registering a handle
// twice keeps a single entry.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[conn]; exists {
		return
	}
	r.entries[conn] = &Identity{}
	r.order = append(r.order, conn)
}

// AssignColorIfAbsent gives conn a random color unless it already has one.
func (r *Registry) AssignColorIfAbsent(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.entries[conn]
	if !ok || id.Color != "" {
		return
	}
	id.Color = formatColor(r.colorSource())
}

// SetUsername overwrites the username of conn. It reports false when conn is
// not registered.
func (r *Registry) SetUsername(conn Conn, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.entries[conn]
	if !ok {
		return false
	}
	id.Username = &name
	return true
}

// Unregister removes conn and returns the identity it had. Unknown handles
// are ignored.
func (r *Registry) Unregister(conn Conn) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.entries[conn]
	if !ok {
		return Identity{}, false
	}
	delete(r.entries, conn)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *id, true
}

// Lookup returns a copy of the identity stored for conn.
func (r *Registry) Lookup(conn Conn) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.entries[conn]
	if !ok {
		return Identity{}, false
	}
	return *id, true
}

// SnapshotUsernames returns the username of every registered connection in
// registration order. Connections without a username contribute nil.
func (r *Registry) SnapshotUsernames() []*string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*string, 0, len(r.order))
	for _, conn := range r.order {
		var name *string
		if u := r.entries[conn].Username; u != nil {
			copied := *u
			name = &copied
		}
		users = append(users, name)
	}
	return users
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AllConns returns a point-in-time copy of the registered handles.
func (r *Registry) AllConns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Conn(nil), r.order...)
}
