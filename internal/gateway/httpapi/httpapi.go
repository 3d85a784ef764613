// Package httpapi implements the HTTP API gateway over the dispatcher.
//
// Security:
//   - Bearer authentication on every /v1 request: static API keys
//     (constant-time comparison) or HS256 JWTs
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/gateway/auth"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ClientPrefix is prepended to authenticated client names in audit events.
const ClientPrefix = "http:"

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // 0 = 1 MB default.
	Auth           *auth.Authenticator

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Backs /readyz.
	Metrics         *observability.MetricsCollector // HTTP middleware metrics.
	Tracer          trace.Tracer
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	disp    *dispatcher.Dispatcher
	audit   audit.Store // nil disables GET /v1/audit.
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket channel).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, d *dispatcher.Dispatcher, store audit.Store, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:  cfg,
		disp:    d,
		audit:   store,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithOpenAPIDocs serves the generated OpenAPI document and UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Warden",
			Version: "v1",
		},
	)
	return g
}

// WithHandler mounts an additional GET handler at pattern.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start registers routes, launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	if !g.config.Auth.Enabled() {
		g.logger.Warn("http api gateway running without authentication")
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) routes() {
	g.group = g.okapi.Group("/v1",
		observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		g.authenticate,
		g.limitBody,
	)

	g.group.Post("/actions", g.handleSubmit,
		okapi.DocSummary("Submit an action request"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ActionRequest{}),
		okapi.DocResponse(dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusAccepted, dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusBadRequest, dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusConflict, dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/confirm", g.handleConfirm,
		okapi.DocSummary("Confirm the pending action with the PIN"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ConfirmRequest{}),
		okapi.DocResponse(dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusUnprocessableEntity, dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusLocked, dispatcher.Outcome{}),
		okapi.DocResponse(http.StatusConflict, dispatcher.Outcome{}),
	)
	g.group.Post("/cancel", g.handleCancel,
		okapi.DocSummary("Cancel the pending action"),
		okapi.DocTags("Actions"),
		okapi.DocResponse(dispatcher.Outcome{}),
	)
	g.group.Get("/state", g.handleState,
		okapi.DocSummary("Current dispatcher state"),
		okapi.DocTags("Actions"),
		okapi.DocResponse(StateResponse{}),
	)
	if g.audit != nil {
		g.group.Get("/audit", g.handleAudit,
			okapi.DocSummary("Query the audit trail, newest first"),
			okapi.DocTags("Audit"),
			okapi.DocResponse([]audit.Event{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// --- Handlers ---

// ActionRequest is the JSON body for POST /v1/actions.
type ActionRequest struct {
	Kind              string         `json:"kind"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	OriginText        string         `json:"origin_text,omitempty"`
	NeedsConfirmation bool           `json:"needs_confirmation,omitempty"`
}

// ConfirmRequest is the JSON body for POST /v1/confirm.
type ConfirmRequest struct {
	PIN string `json:"pin"`
}

// StateResponse is returned by GET /v1/state.
type StateResponse struct {
	State   dispatcher.State        `json:"state"`
	Pending *dispatcher.PendingView `json:"pending,omitempty"`
}

// HealthResponse is the body of the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleSubmit(c *okapi.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Kind) == "" {
		return c.AbortBadRequest("kind is required")
	}

	out := g.disp.Submit(g.clientContext(c), action.Request{
		Kind:              action.Kind(req.Kind),
		Parameters:        action.Params(req.Parameters),
		OriginText:        req.OriginText,
		NeedsConfirmation: req.NeedsConfirmation,
	})
	return g.respond(c, "submit", out)
}

func (g *Gateway) handleConfirm(c *okapi.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.PIN) == "" {
		return c.AbortBadRequest("pin is required")
	}
	return g.respond(c, "confirm", g.disp.Confirm(g.clientContext(c), req.PIN))
}

func (g *Gateway) handleCancel(c *okapi.Context) error {
	return g.respond(c, "cancel", g.disp.CancelPending(g.clientContext(c)))
}

func (g *Gateway) handleState(c *okapi.Context) error {
	resp := StateResponse{State: g.disp.State()}
	if p, ok := g.disp.Pending(); ok {
		resp.Pending = &p
	}
	return c.OK(resp)
}

func (g *Gateway) handleAudit(c *okapi.Context) error {
	f, err := ParseFilter(c.Request().URL.Query().Get("kind"),
		c.Request().URL.Query().Get("action_kind"),
		c.Request().URL.Query().Get("since"),
		c.Request().URL.Query().Get("limit"),
		time.Now())
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	events, err := g.audit.Query(c.Context(), f)
	if err != nil {
		g.logger.Error("audit query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit query failed")
	}
	if events == nil {
		events = []audit.Event{}
	}
	return c.OK(events)
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: observability.StatusOK})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != observability.StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func (g *Gateway) respond(c *okapi.Context, op string, out dispatcher.Outcome) error {
	g.logger.Debug("http dispatch",
		slog.String("op", op),
		slog.String("client", c.GetString("client")),
		slog.String("outcome", out.String()),
	)
	return c.JSON(StatusFor(out), out)
}

func (g *Gateway) clientContext(c *okapi.Context) context.Context {
	return dispatcher.WithClient(c.Context(), ClientPrefix+c.GetString("client"))
}

// StatusFor maps an outcome to its HTTP status code.
func StatusFor(o dispatcher.Outcome) int {
	switch o.Kind {
	case dispatcher.Executed:
		return http.StatusOK
	case dispatcher.PinRequired:
		return http.StatusAccepted
	}
	switch o.Reason {
	case dispatcher.ReasonCancelled:
		// Only CancelPending produces it; cancelling is always legal.
		return http.StatusOK
	case dispatcher.ReasonAlreadyPending, dispatcher.ReasonNoPendingAction:
		return http.StatusConflict
	case dispatcher.ReasonAuthorizationRejected:
		return http.StatusForbidden
	case dispatcher.ReasonUnknownActionKind, dispatcher.ReasonInvalidParameters:
		return http.StatusBadRequest
	case dispatcher.ReasonVerificationFailed:
		return http.StatusUnprocessableEntity
	case dispatcher.ReasonLockedOut:
		return http.StatusLocked
	case dispatcher.ReasonThrottled:
		return http.StatusTooManyRequests
	case dispatcher.ReasonCredentialUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// ParseFilter builds an audit filter from query values. since accepts an
// RFC3339 timestamp or a duration counted back from now.
func ParseFilter(kinds, actionKind, since, limit string, now time.Time) (audit.Filter, error) {
	var f audit.Filter
	for _, k := range strings.Split(kinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			f.Kinds = append(f.Kinds, audit.Kind(k))
		}
	}
	f.ActionKind = action.Kind(strings.TrimSpace(actionKind))
	if since != "" {
		if d, err := time.ParseDuration(since); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = t
		} else {
			return audit.Filter{}, errors.New("since must be RFC3339 or a duration")
		}
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return audit.Filter{}, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// --- Middleware ---

// authenticate resolves the bearer credential to a client name and applies
// the per-client rate limit.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		client, err := g.config.Auth.FromHeader(c.Header("Authorization"))
		if err != nil {
			return c.AbortUnauthorized(err.Error())
		}
		if g.limiter != nil {
			if err := g.limiter.Allow(client); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}
		c.Set("client", client)
		return next(c)
	}
}

func (g *Gateway) limitBody(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		r := c.Request()
		if r.Body != nil {
			r.Body = http.MaxBytesReader(nil, r.Body, g.config.MaxRequestSize)
		}
		return next(c)
	}
}
