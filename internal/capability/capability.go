// Package capability defines the handler contract and the registry that maps
// action kinds to handlers. The registry is populated once at startup and only
// read afterwards.
package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jkaninda/warden/internal/action"
)

// Handler executes requests of one kind. Expected failures (missing file,
// unreachable path) are reported through Result.Success=false, not panics.
type Handler interface {
	Kind() action.Kind
	Invoke(ctx context.Context, params action.Params) action.Result
}

// SchemaProvider is implemented by handlers that publish a JSON Schema for
// their parameters. The registry validates parameters against it before a
// request is executed or staged.
type SchemaProvider interface {
	InputSchema() map[string]any
}

// Describer is implemented by handlers with a human readable description.
type Describer interface {
	Description() string
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc struct {
	K  action.Kind
	Fn func(ctx context.Context, params action.Params) action.Result
}

func (h HandlerFunc) Kind() action.Kind { return h.K }

func (h HandlerFunc) Invoke(ctx context.Context, params action.Params) action.Result {
	return h.Fn(ctx, params)
}

// MaxOutputBytes caps handler output carried in results.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds handlers keyed by kind.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[action.Kind]Handler
	validator *validator
}

// NewRegistry creates a registry holding only the none handler.
func NewRegistry() *Registry {
	r := &Registry{
		handlers:  make(map[action.Kind]Handler),
		validator: newValidator(),
	}
	r.Register(noneHandler{})
	return r
}

// Register adds a handler. Panics on duplicate kinds or an invalid schema
// (startup config error, not runtime).
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Kind()]; exists {
		panic("duplicate handler registration: " + string(h.Kind()))
	}
	if sp, ok := h.(SchemaProvider); ok {
		if err := r.validator.add(h.Kind(), sp.InputSchema()); err != nil {
			panic(fmt.Sprintf("handler %s: %v", h.Kind(), err))
		}
	}
	r.handlers[h.Kind()] = h
}

// Resolve returns the handler for kind. Unknown kinds resolve to a handler
// that reports "Unknown action: <kind>".
func (r *Registry) Resolve(kind action.Kind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[kind]; ok {
		return h
	}
	return unknownHandler{kind: kind}
}

// Has reports whether a handler is registered for kind.
func (r *Registry) Has(kind action.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []action.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]action.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Validate checks params against the handler's schema, if it published one.
func (r *Registry) Validate(kind action.Kind, params action.Params) error {
	return r.validator.validate(kind, params)
}

// CheckComplete returns an error naming every kind in required that has no
// registered handler.
func (r *Registry) CheckComplete(required []action.Kind) error {
	var missing []string
	for _, k := range required {
		if !r.Has(k) {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsUnknown reports whether h is the placeholder returned for unregistered kinds.
func IsUnknown(h Handler) bool {
	_, ok := h.(unknownHandler)
	return ok
}

type noneHandler struct{}

func (noneHandler) Kind() action.Kind { return action.KindNone }

func (noneHandler) Invoke(context.Context, action.Params) action.Result {
	return action.Ok("No action required")
}

type unknownHandler struct {
	kind action.Kind
}

func (u unknownHandler) Kind() action.Kind { return u.kind }

func (u unknownHandler) Invoke(context.Context, action.Params) action.Result {
	return action.Fail("Unknown action: %s", u.kind)
}
