// Package memory implements an in-memory object network for development
// and testing, with optional failure injection.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// Network is an in-memory archive.ObjectNetwork.
type Network struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte

	// Failure injection for tests.
	FailList bool
	FailGet  bool
	FailPut  bool
}

// New constructs an empty Network.
func New() *Network {
	return &Network{objects: make(map[string]map[string][]byte)}
}

func namespace(service, name string) string {
	return service + "/" + name
}

// List returns every identifier under {service, name} in map order,
// deliberately unordered like the real listing.
func (n *Network) List(_ context.Context, service, name string) ([]string, error) {
	if n.FailList {
		return nil, fmt.Errorf("object network listing unavailable")
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	ns := n.objects[namespace(service, name)]
	out := make([]string, 0, len(ns))
	for id := range ns {
		out = append(out, id)
	}
	return out, nil
}

// Get returns the stored bytes for an identifier.
func (n *Network) Get(_ context.Context, service, name, identifier string) ([]byte, error) {
	if n.FailGet {
		return nil, fmt.Errorf("object network get unavailable")
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	data, ok := n.objects[namespace(service, name)][identifier]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", identifier, archive.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put stores bytes under an identifier.
func (n *Network) Put(_ context.Context, service, name, identifier string, data []byte) error {
	if n.FailPut {
		return fmt.Errorf("object network put unavailable")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ns := namespace(service, name)
	if n.objects[ns] == nil {
		n.objects[ns] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	n.objects[ns][identifier] = cp
	return nil
}

// Len reports the number of objects stored under {service, name}.
func (n *Network) Len(service, name string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.objects[namespace(service, name)])
}
