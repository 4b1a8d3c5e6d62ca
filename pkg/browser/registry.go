// File: pkg/browser/registry.go
package browser

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Closer is anything the registry can shut down.
type Closer interface {
	Close(ctx context.Context) error
}

// Registry tracks live sessions (or clients wrapping them) for global
// cleanup. It is an explicit value owned by whoever creates instances; there
// is no process-wide implicit registry.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]Closer
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger.Named("registry"),
		entries: make(map[string]Closer),
	}
}

// Register tracks c under id, replacing any previous entry with that id.
func (r *Registry) Register(id string, c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = c
}

// Deregister stops tracking id without closing it.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len reports how many entries are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll closes every tracked entry and empties the registry. Close
// failures are collected, not short-circuited, so one stuck session cannot
// keep the rest open.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Closer)
	r.mu.Unlock()

	var errs []error
	for id, c := range entries {
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("Failed to close registered session.", zap.String("id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
