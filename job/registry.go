package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased operation handler. It receives the job
// being executed and its resolved subject (document, basket, or other
// domain object supplied by the subject resolver). The typed
// Definition[T] is converted to a HandlerFunc at registration time by
// closing over JSON unmarshal + the typed handler.
//
// Handlers report failure by returning an error; all retry logic lives
// in the worker, never in the handler.
type HandlerFunc func(ctx context.Context, j *Job, subject any) error

// Registry maps operation types to type-erased handler functions and
// their per-operation options. It is safe for concurrent use.
//
// The registry replaces string-keyed dynamic dispatch with a typed
// surface: operations are registered as Definition[T] values and the
// worker polls only operations that have a registered handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	opts     map[string]Options
}

// NewRegistry creates an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		opts:     make(map[string]Options),
	}
}

// RegisterDefinition registers a typed operation definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job, subject any) error {
		req := &Request[T]{Job: j, Subject: subject}
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &req.Payload); err != nil {
				return fmt.Errorf("unmarshal payload for operation %q: %w", def.Operation, err)
			}
		}
		return def.Handler(ctx, req)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Operation] = handler
	r.opts[def.Operation] = def.Opts
}

// Get returns the handler for the given operation type.
// Returns false if no handler is registered.
func (r *Registry) Get(operation string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[operation]
	return h, ok
}

// Options returns the registered options for an operation, falling back
// to DefaultOptions for unknown operations.
func (r *Registry) Options(operation string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.opts[operation]; ok {
		return o
	}
	return DefaultOptions()
}

// Operations returns all registered operation types. The worker polls
// only these.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	return ops
}
