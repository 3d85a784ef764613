package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no route template matched, so arbitrary
// paths cannot grow the metric label set.
const unmatchedRoute = "unmatched"

// RouteTemplate returns the registered path template for r, e.g. "/v1/actions".
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

// MetricsMiddleware records request counts and latency per route template
// and wraps each request in an http.request span. The span is tagged with
// the authenticated client once the inner handlers have run. Either argument
// may be nil.
func MetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()
			route := RouteTemplate(r)

			var span trace.Span
			if tracer != nil {
				_, span = tracer.Start(r.Context(), "http.request", trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", route),
				))
				defer span.End()
			}
			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			code := c.Response().StatusCode()
			if code == 0 {
				code = http.StatusOK
			}
			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", code))
				if client := c.GetString("client"); client != "" {
					span.SetAttributes(AttrClient.String(client))
				}
				if code >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, strconv.Itoa(code))
				}
			}
			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusCode(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed)
			}
			return err
		}
	}
}
