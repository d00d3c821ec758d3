// Package storage holds the protocol connectors available to sharefs.
package storage

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sharefs/sharefs/internal/storage/natsobj"
	"github.com/sharefs/sharefs/internal/storage/s3"
	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// Registry maps protocols to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[types.Protocol]types.Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[types.Protocol]types.Connector)}
}

// NewDefaultRegistry returns a registry with every built-in connector.
func NewDefaultRegistry(connectTimeout time.Duration, logger *slog.Logger, metrics types.MetricsCollector) *Registry {
	r := NewRegistry()
	r.Register(s3.NewConnector(nil, logger, metrics))
	r.Register(natsobj.NewConnector(connectTimeout, logger, metrics))
	return r
}

// Register adds c, replacing any connector for the same protocol.
func (r *Registry) Register(c types.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Protocol()] = c
}

// Get returns the connector for p.
func (r *Registry) Get(p types.Protocol) (types.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[p]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnsupportedProtocol, "no connector for protocol").
			WithComponent("storage").
			WithContext("protocol", string(p))
	}
	return c, nil
}

// Protocols lists the registered protocols in sorted order.
func (r *Registry) Protocols() []types.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Protocol, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
