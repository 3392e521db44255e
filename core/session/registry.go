package session

import (
	"sort"
	"sync"
	"time"
)

// Registry is the set of live client ids.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]time.Time)}
}

// Add records clientID as connected now.
func (r *Registry) Add(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = time.Now()
}

func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

func (r *Registry) Has(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[clientID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs returns the connected client ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
