package rpcserver

import (
	"sync"

	"github.com/jeeves-cluster-organization/deviceclient/device"
)

// Registry tracks every live Client an operator process has constructed,
// so the admin control plane can answer ListClients/GetClientStatus
// without the device package itself knowing about gRPC.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*device.Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*device.Client)}
}

// Register adds c under its ID, replacing any prior Client registered
// under the same ID.
func (r *Registry) Register(c *device.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

// Unregister removes the Client with the given ID, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Get returns the Client registered under id, if any.
func (r *Registry) Get(id string) (*device.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Snapshots returns a ClientSnapshot for every currently registered Client.
func (r *Registry) Snapshots() []device.ClientSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]device.ClientSnapshot, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.Snapshot())
	}
	return out
}
