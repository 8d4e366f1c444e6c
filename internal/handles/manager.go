// Package handles hands out process-local references to in-memory blobs so
// previews and results can be served by reference and released explicitly.
package handles

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

const handlePrefix = "blob:"

// Handle is a dereferenceable reference to a blob. The zero value is "no
// handle". Every handle carries the id of the item that owns it.
type Handle struct {
	id    string
	owner string
}

func (h Handle) ID() string    { return h.id }
func (h Handle) Owner() string { return h.owner }
func (h Handle) IsZero() bool  { return h.id == "" }

// URL is the path under which the HTTP layer resolves the handle.
func (h Handle) URL() string {
	if h.IsZero() {
		return ""
	}
	return "/api/blobs/" + h.id
}

type Stats struct {
	Created int `json:"created"`
	Revoked int `json:"revoked"`
	Live    int `json:"live"`
}

type entry struct {
	owner string
	blob  []byte
}

// Manager owns every live handle of a session. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	live    map[string]entry
	created int
	revoked int
}

func NewManager() *Manager {
	return &Manager{live: make(map[string]entry)}
}

func (m *Manager) Create(owner string, blob []byte) Handle {
	h := Handle{id: handlePrefix + uuid.NewString(), owner: owner}

	m.mu.Lock()
	m.live[h.id] = entry{owner: owner, blob: blob}
	m.created++
	m.mu.Unlock()

	return h
}

// Revoke invalidates h. Unknown, zero and already revoked handles are a
// no-op, as is a revoke issued by someone other than the owner.
func (m *Manager) Revoke(owner string, h Handle) bool {
	if h.IsZero() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live[h.id]
	if !ok {
		return false
	}
	if e.owner != owner {
		log.Warn("refusing revoke of handle %s owned by %s (requested by %s)", h.id, e.owner, owner)
		return false
	}
	delete(m.live, h.id)
	m.revoked++
	return true
}

// Resolve returns the blob behind a live handle id.
func (m *Manager) Resolve(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.live[id]
	if !ok {
		return nil, false
	}
	return e.blob, true
}

// RevokeAll releases every live handle; used when the session ends.
func (m *Manager) RevokeAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.live)
	m.live = make(map[string]entry)
	m.revoked += n
	return n
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{Created: m.created, Revoked: m.revoked, Live: len(m.live)}
}
