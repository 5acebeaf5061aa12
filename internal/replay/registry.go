// Package replay dispatches queued operations to their handlers. The set of
// operation kinds is closed and known at startup: each kind binds a typed
// payload to the code that replays it against the real collaborator.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/gymdesk/gymsync/internal/errors"
)

// Handler replays one kind of deferred operation.
type Handler interface {
	// Kind is the stable operation identifier stored with queued rows.
	Kind() string

	// Execute replays the operation. A plain error is treated as transient;
	// return a terminal execution error for failures retrying cannot fix.
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Registry is the lookup table from operation kind to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to its kind. Registering the same kind twice is a
// wiring bug and fails.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := h.Kind()
	if kind == "" {
		return apperrors.New(apperrors.ErrInvalid, "handler kind must not be empty")
	}
	if _, exists := r.handlers[kind]; exists {
		return apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("handler for kind %q already registered", kind))
	}
	r.handlers[kind] = h
	return nil
}

// Kinds returns the registered operation kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Execute dispatches the payload to the handler for kind. An unknown kind is
// a terminal execution error: no amount of retrying makes a handler appear.
func (r *Registry) Execute(ctx context.Context, kind string, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()

	if !ok {
		return apperrors.New(apperrors.ErrUnknownOperation,
			fmt.Sprintf("no handler registered for kind %q", kind))
	}
	return h.Execute(ctx, payload)
}

// Decode unmarshals a stored payload into its typed form. A payload that no
// longer decodes is terminal: it was captured immutably at enqueue time, so
// it will never become valid.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, apperrors.Wrap(apperrors.ErrTerminalExecution, "undecodable payload", err)
	}
	return v, nil
}

// Func adapts a function to the Handler interface.
type Func struct {
	Name string
	Run  func(ctx context.Context, payload json.RawMessage) error
}

// Kind implements Handler.
func (f Func) Kind() string { return f.Name }

// Execute implements Handler.
func (f Func) Execute(ctx context.Context, payload json.RawMessage) error {
	return f.Run(ctx, payload)
}
