package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
)

// InstrumentedHandler wraps a capability.Handler with metrics and tracing.
// It forwards the optional schema and description so the registry treats
// it like the inner handler.
type InstrumentedHandler struct {
	inner   capability.Handler
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// Instrument wraps h. With neither metrics nor tracing, h is returned as is.
func Instrument(h capability.Handler, metrics *MetricsCollector, ts *TracerSetup) capability.Handler {
	if metrics == nil && ts == nil {
		return h
	}
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedHandler{inner: h, metrics: metrics, tracer: tracer}
}

// InstrumentAll wraps every handler in hs.
func InstrumentAll[H capability.Handler](hs []H, metrics *MetricsCollector, ts *TracerSetup) []capability.Handler {
	out := make([]capability.Handler, len(hs))
	for i, h := range hs {
		out[i] = Instrument(h, metrics, ts)
	}
	return out
}

func (h *InstrumentedHandler) Kind() action.Kind { return h.inner.Kind() }

func (h *InstrumentedHandler) InputSchema() map[string]any {
	if sp, ok := h.inner.(capability.SchemaProvider); ok {
		return sp.InputSchema()
	}
	return nil
}

func (h *InstrumentedHandler) Description() string {
	if d, ok := h.inner.(capability.Describer); ok {
		return d.Description()
	}
	return ""
}

// Unwrap returns the wrapped handler.
func (h *InstrumentedHandler) Unwrap() capability.Handler { return h.inner }

func (h *InstrumentedHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	kind := string(h.inner.Kind())

	var span trace.Span
	if h.tracer != nil {
		ctx, span = StartActionSpan(ctx, h.tracer, "handler.invoke", h.inner.Kind(), "")
		defer span.End()
	}

	start := time.Now()
	res := h.inner.Invoke(ctx, params)
	elapsed := time.Since(start)

	status := "success"
	if !res.Success {
		status = "failure"
	}
	if span != nil {
		EndActionSpan(span, res)
	}
	h.metrics.ObserveHandler(kind, status, elapsed)
	return res
}

var (
	_ capability.Handler        = (*InstrumentedHandler)(nil)
	_ capability.SchemaProvider = (*InstrumentedHandler)(nil)
	_ capability.Describer      = (*InstrumentedHandler)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
