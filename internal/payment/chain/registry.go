package chain

import (
	"context"
	"fmt"
	"sync"
)

// Registry maps chain ids to clients.
type Registry struct {
	mu      sync.RWMutex
	dev     bool
	clients map[int64]Client
}

// NewRegistry returns an empty registry. dev enables development-only chains.
func NewRegistry(dev bool) *Registry {
	return &Registry{dev: dev, clients: make(map[int64]Client)}
}

// Register attaches c to chain id. Unsupported ids are rejected.
func (r *Registry) Register(id int64, c Client) error {
	if _, ok := Lookup(id, r.dev); !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = c
	return nil
}

// Client returns the client for id, or ErrUnsupportedChain when the id is unknown or has no RPC endpoint.
func (r *Registry) Client(id int64) (Client, error) {
	if _, ok := Lookup(id, r.dev); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d has no RPC endpoint configured", ErrUnsupportedChain, id)
	}
	return c, nil
}

// Info returns chain metadata for id.
func (r *Registry) Info(id int64) (Info, error) {
	c, ok := Lookup(id, r.dev)
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	return c, nil
}

// Dev reports whether development-only chains are enabled.
func (r *Registry) Dev() bool {
	return r.dev
}

// Dial connects an EthClient for every entry in urls and registers it.
func Dial(ctx context.Context, urls map[int64]string, dev bool) (*Registry, error) {
	r := NewRegistry(dev)
	for id, url := range urls {
		if _, ok := Lookup(id, dev); !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
		}
		c, err := DialEthClient(ctx, id, url)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		if err := r.Register(id, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
