package rpc

import (
	"fmt"
	"log/slog"
	"sync"
)

// CancelRegistry tracks in-flight tool invocations by request id so a later
// notification can abort one. The lock is held only for the map operation
// itself, never across the work being tracked.
type CancelRegistry struct {
	mu     sync.Mutex
	log    *slog.Logger
	active map[string]chan struct{}
}

func NewCancelRegistry(log *slog.Logger) *CancelRegistry {
	return &CancelRegistry{
		log:    log,
		active: make(map[string]chan struct{}),
	}
}

// Register inserts a one-shot cancellation channel for id. At most one
// active entry per id may exist.
func (r *CancelRegistry) Register(id string) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[id]; exists {
		return nil, fmt.Errorf("request %q is already active", id)
	}
	ch := make(chan struct{})
	r.active[id] = ch
	return ch, nil
}

// Cancel removes and signals the entry for id, reporting whether it
// existed. Cancelling an unknown id is a no-op.
func (r *CancelRegistry) Cancel(id, reason string) bool {
	r.mu.Lock()
	ch, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn("cancellation for unknown request",
			slog.String("request_id", id),
			slog.String("reason", reason))
		return false
	}
	close(ch)
	r.log.Info("request cancelled",
		slog.String("request_id", id),
		slog.String("reason", reason))
	return true
}

// Complete removes the entry for id without signalling, used when the work
// finished on its own.
func (r *CancelRegistry) Complete(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}
