// Package worker provides the action consumer runtime: a pool of workers per
// service role, dispatching received actions to registered handlers with
// error isolation.
package worker

import (
	"context"
	"sync"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/bus"
)

// Handler processes a single action. A non-nil result is wrapped in a
// callback action when the request declared callback_action_type.
type Handler func(ctx context.Context, a *actions.Action) (map[string]any, error)

type registration struct {
	handler       Handler
	requireData   bool
	requireTaskID bool
}

// Option adjusts validation for a registered action type.
type Option func(*registration)

// WithTaskIDRequired rejects actions of this type that carry no task_id.
func WithTaskIDRequired() Option {
	return func(r *registration) { r.requireTaskID = true }
}

// WithNoData permits actions of this type to carry an empty data map
// (e.g. conversation.session.closed routes entirely on envelope fields).
func WithNoData() Option {
	return func(r *registration) { r.requireData = false }
}

// Registry maps action types to handlers. The dispatch table is the only
// process-wide routing state; it is populated at service start.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register binds a handler to an action type. Registering a type the service
// does not own is a wiring bug; last registration wins.
func (r *Registry) Register(actionType string, h Handler, opts ...Option) {
	reg := registration{handler: h, requireData: true}
	for _, opt := range opts {
		opt(&reg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = reg
}

func (r *Registry) lookup(actionType string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[actionType]
	return reg, ok
}

// Queues returns the broker queue keys for every registered action type.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queues := make([]string, 0, len(r.handlers))
	for actionType := range r.handlers {
		queues = append(queues, bus.Queue(actionType))
	}
	return queues
}
