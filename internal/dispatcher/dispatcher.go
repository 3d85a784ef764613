// Package dispatcher is the authorization state machine. Safe requests run
// immediately; dangerous ones are staged behind a PIN challenge with bounded
// retries and run exactly once after verification.
//
// One mutex guards the pending slot, the attempt governor and therefore the
// state. Handlers always run after the lock is released.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/classifier"
	"github.com/jkaninda/warden/internal/credential"
	"github.com/jkaninda/warden/internal/governor"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/pending"
)

// Classifier decides whether a request needs the PIN.
type Classifier interface {
	Classify(req action.Request) classifier.Verdict
}

// Verifier checks PINs. Implemented by credential.Vault.
type Verifier interface {
	Configured(ctx context.Context) (bool, error)
	Verify(ctx context.Context, pin string) (bool, error)
}

// Dispatcher routes action requests through classification, the PIN gate
// and the capability registry.
type Dispatcher struct {
	mu       sync.Mutex
	classify Classifier
	registry *capability.Registry
	verifier Verifier
	slot     *pending.Slot
	gov      *governor.Governor
	audit    audit.Sink
	metrics  *observability.MetricsCollector
	anomaly  *observability.AnomalyDetector
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSlot replaces the default pending slot (DefaultTTL).
func WithSlot(s *pending.Slot) Option { return func(d *Dispatcher) { d.slot = s } }

// WithGovernor replaces the default governor (3 attempts, no throttle).
func WithGovernor(g *governor.Governor) Option { return func(d *Dispatcher) { d.gov = g } }

// WithAudit sets the audit sink.
func WithAudit(s audit.Sink) Option { return func(d *Dispatcher) { d.audit = s } }

// WithMetrics enables dispatcher metrics.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAnomaly enables PIN failure burst detection.
func WithAnomaly(a *observability.AnomalyDetector) Option {
	return func(d *Dispatcher) { d.anomaly = a }
}

// WithTracer enables dispatch spans.
func WithTracer(ts *observability.TracerSetup) Option {
	return func(d *Dispatcher) {
		if ts != nil {
			d.tracer = ts.Tracer()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New builds a dispatcher. The slot's expiry callback is taken over by the
// dispatcher so expirations are audited.
func New(c Classifier, reg *capability.Registry, v Verifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		classify: c,
		registry: reg,
		verifier: v,
		audit:    audit.Nop{},
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.slot == nil {
		d.slot = pending.New(pending.DefaultTTL)
	}
	if d.gov == nil {
		d.gov = governor.New(governor.DefaultMaxAttempts)
	}
	d.slot.OnExpire(d.expired)
	return d
}

// Submit classifies req and either executes it, stages it behind the PIN,
// or rejects it.
func (d *Dispatcher) Submit(ctx context.Context, req action.Request) Outcome {
	req = req.Clone()
	if req.Kind == "" {
		req.Kind = action.KindNone
	}

	ctx, span := observability.StartActionSpan(ctx, d.tracer, "dispatch.submit", req.Kind, ClientFrom(ctx))
	defer span.End()

	out := d.submit(ctx, req)
	span.SetAttributes(observability.AttrOutcome.String(out.String()))
	d.metrics.ObserveDispatch("submit", string(out.Kind), string(out.Reason))
	return out
}

func (d *Dispatcher) submit(ctx context.Context, req action.Request) Outcome {
	if !d.registry.Has(req.Kind) {
		return rejected(ReasonUnknownActionKind, "Unknown action: %s", req.Kind)
	}
	verdict := d.classify.Classify(req)
	if err := d.registry.Validate(req.Kind, req.Parameters); err != nil {
		if verdict.Dangerous {
			ev := d.event(audit.KindDangerousDetected, req, verdict, ClientFrom(ctx))
			ev.Detail = "rejected: invalid parameters: " + err.Error()
			d.record(ctx, ev)
		}
		return rejected(ReasonInvalidParameters, "%v", err)
	}

	if !verdict.Dangerous {
		return d.execute(ctx, req, false, "")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	client := ClientFrom(ctx)
	ok, err := d.verifier.Configured(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "checking credential", slog.String("error", err.Error()))
		return rejected(ReasonCredentialUnavailable, "Credential store unavailable")
	}
	if !ok {
		ev := d.event(audit.KindDangerousDetected, req, verdict, client)
		ev.Detail = "rejected: no PIN configured"
		d.record(ctx, ev)
		return rejected(ReasonAuthorizationRejected, "No PIN is configured; set one with 'warden pin set'")
	}

	entry, err := d.slot.Stage(req)
	if err != nil {
		ev := d.event(audit.KindDangerousDetected, req, verdict, client)
		ev.Detail = "rejected: another action is pending"
		d.record(ctx, ev)
		if errors.Is(err, pending.ErrAlreadyPending) {
			return rejected(ReasonAlreadyPending, "Another action is awaiting PIN confirmation")
		}
		return rejected(ReasonAlreadyPending, "%v", err)
	}
	d.gov.Reset()

	ev := d.event(audit.KindDangerousDetected, req, verdict, client)
	ev.PendingID = entry.ID
	d.record(ctx, ev)
	d.metrics.SetPending(true)

	d.logger.InfoContext(ctx, "dangerous action staged",
		slog.String("kind", string(req.Kind)),
		slog.String("pending_id", entry.ID),
		slog.String("rule", verdict.Rule),
		slog.String("client", client),
	)

	view := d.view(entry)
	return Outcome{
		Kind:      PinRequired,
		Message:   "This action requires PIN confirmation",
		Remaining: d.gov.Remaining(),
		Pending:   &view,
		Verdict:   &verdict,
	}
}

// Confirm checks pin against the stored credential for the pending action.
func (d *Dispatcher) Confirm(ctx context.Context, pin string) Outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.confirm",
		trace.WithAttributes(observability.AttrClient.String(ClientFrom(ctx))))
	defer span.End()

	out := d.confirm(ctx, pin)
	span.SetAttributes(observability.AttrOutcome.String(out.String()))
	d.metrics.ObserveDispatch("confirm", string(out.Kind), string(out.Reason))
	return out
}

func (d *Dispatcher) confirm(ctx context.Context, pin string) Outcome {
	client := ClientFrom(ctx)

	d.mu.Lock()
	entry, ok := d.slot.Peek()
	if !ok {
		d.mu.Unlock()
		return rejected(ReasonNoPendingAction, "No action is awaiting confirmation")
	}
	if !d.gov.Allow() {
		d.mu.Unlock()
		return rejected(ReasonThrottled, "Too many confirmation attempts; try again shortly")
	}

	match, err := d.verifier.Verify(ctx, pin)
	if errors.Is(err, credential.ErrNotConfigured) {
		d.mu.Unlock()
		return rejected(ReasonAuthorizationRejected, "No PIN is configured; set one with 'warden pin set'")
	}
	if err != nil {
		d.mu.Unlock()
		d.logger.ErrorContext(ctx, "verifying PIN", slog.String("error", err.Error()))
		return rejected(ReasonCredentialUnavailable, "Credential store unavailable")
	}

	result := d.gov.RecordAttempt(match)
	d.metrics.ObservePINAttempt(result.Decision.String())

	switch result.Decision {
	case governor.Verified:
		d.slot.Take()
		ev := d.pendingEvent(audit.KindPINVerified, entry, client)
		ev.Verified = true
		d.record(ctx, ev)
		d.metrics.SetPending(false)
		d.mu.Unlock()

		d.anomaly.RecordSuccess(client)
		d.logger.InfoContext(ctx, "PIN verified",
			slog.String("kind", string(entry.Request.Kind)),
			slog.String("pending_id", entry.ID),
		)
		return d.execute(ctx, entry.Request, true, entry.ID)

	case governor.Retry:
		ev := d.pendingEvent(audit.KindPINFailed, entry, client)
		ev.Detail = fmt.Sprintf("%d attempts remaining", result.Remaining)
		d.record(ctx, ev)
		d.mu.Unlock()

		d.anomaly.RecordFailure(client)
		out := rejected(ReasonVerificationFailed, "Incorrect PIN (%d attempts remaining)", result.Remaining)
		out.Remaining = result.Remaining
		return out

	default:
		d.slot.Cancel()
		d.record(ctx, d.pendingEvent(audit.KindPINFailed, entry, client))
		d.record(ctx, d.pendingEvent(audit.KindLockout, entry, client))
		d.metrics.SetPending(false)
		d.mu.Unlock()

		d.anomaly.RecordFailure(client)
		d.logger.WarnContext(ctx, "PIN lockout, pending action discarded",
			slog.String("kind", string(entry.Request.Kind)),
			slog.String("pending_id", entry.ID),
			slog.String("client", client),
		)
		return rejected(ReasonLockedOut, "Too many failed attempts. Action cancelled.")
	}
}

// CancelPending discards the pending action, if any. Always legal and
// idempotent.
func (d *Dispatcher) CancelPending(ctx context.Context) Outcome {
	d.mu.Lock()
	entry, ok := d.slot.Cancel()
	d.gov.Reset()
	if ok {
		d.record(ctx, d.pendingEvent(audit.KindActionCancelled, entry, ClientFrom(ctx)))
		d.metrics.SetPending(false)
	}
	d.mu.Unlock()

	d.metrics.ObserveDispatch("cancel", string(Rejected), string(ReasonCancelled))
	if !ok {
		return rejected(ReasonCancelled, "Nothing to cancel")
	}
	d.logger.InfoContext(ctx, "pending action cancelled", slog.String("pending_id", entry.ID))
	out := rejected(ReasonCancelled, "Action cancelled")
	view := snapshot(entry, d.gov.Max())
	out.Pending = &view
	return out
}

// State returns IDLE or AWAITING_PIN.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot.Occupied() {
		return StateAwaitingPIN
	}
	return StateIdle
}

// Pending returns a snapshot of the staged action.
func (d *Dispatcher) Pending() (PendingView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.slot.Peek()
	if !ok {
		return PendingView{}, false
	}
	return d.view(entry), true
}

// Attempts returns the failed attempts recorded for the current pending action.
func (d *Dispatcher) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gov.Count()
}

// Sweep discards the pending action if it expired at now. Implements
// pending.Sweeper.
func (d *Dispatcher) Sweep(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slot.Sweep(now)
}

// expired runs under d.mu, called by the slot.
func (d *Dispatcher) expired(e pending.Entry) {
	d.gov.Reset()
	d.metrics.SetPending(false)
	d.record(context.Background(), d.pendingEvent(audit.KindActionExpired, e, ""))
	d.logger.Info("pending action expired",
		slog.String("kind", string(e.Request.Kind)),
		slog.String("pending_id", e.ID),
	)
}

// execute runs the handler outside the lock and audits the result. Once
// started, an invocation is bounded only by the handler's own timeout: the
// caller disconnecting must not abort an action whose slot is already taken.
func (d *Dispatcher) execute(ctx context.Context, req action.Request, verified bool, pendingID string) Outcome {
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.StartActionSpan(ctx, d.tracer, "dispatch.execute", req.Kind, "",
		observability.AttrActionVerified.Bool(verified))
	defer span.End()

	h := d.registry.Resolve(req.Kind)
	res := d.invoke(ctx, h, req.Parameters)
	observability.EndActionSpan(span, res)

	if verified || req.Kind != action.KindNone {
		ev := audit.New(audit.KindActionExecuted, req)
		ev.Verified = verified
		ev.PendingID = pendingID
		ev.Success = &res.Success
		ev.Client = ClientFrom(ctx)
		if !res.Success {
			ev.Detail = res.Message
		}
		d.record(ctx, ev)
	}

	if !res.Success {
		d.logger.WarnContext(ctx, "action failed",
			slog.String("kind", string(req.Kind)),
			slog.String("message", res.Message),
		)
	}
	return executed(res)
}

// invoke recovers handler panics into a failed result.
func (d *Dispatcher) invoke(ctx context.Context, h capability.Handler, params action.Params) (res action.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panic",
				slog.String("kind", string(h.Kind())),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = action.Fail("Internal error while executing %s", h.Kind())
		}
	}()
	return h.Invoke(ctx, params)
}

func (d *Dispatcher) event(kind audit.Kind, req action.Request, v classifier.Verdict, client string) audit.Event {
	ev := audit.New(kind, req)
	ev.Rule = v.Rule
	ev.Category = string(v.Category)
	ev.Client = client
	if v.Err != "" {
		ev.Detail = v.Err
	}
	return ev
}

func (d *Dispatcher) pendingEvent(kind audit.Kind, e pending.Entry, client string) audit.Event {
	ev := audit.New(kind, e.Request)
	ev.PendingID = e.ID
	ev.Client = client
	return ev
}

// record writes an audit event. Audit failures are logged, never surfaced:
// the state transition has already happened.
func (d *Dispatcher) record(ctx context.Context, ev audit.Event) {
	if err := d.audit.Record(ctx, ev); err != nil {
		d.logger.ErrorContext(ctx, "writing audit event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// view must be called with d.mu held.
func (d *Dispatcher) view(e pending.Entry) PendingView {
	return snapshot(e, d.gov.Remaining())
}

func snapshot(e pending.Entry, remaining int) PendingView {
	v := PendingView{
		ID:         e.ID,
		Kind:       e.Request.Kind,
		Parameters: e.Request.Parameters,
		OriginText: e.OriginText,
		CreatedAt:  e.CreatedAt,
		Remaining:  remaining,
	}
	if !e.ExpiresAt.IsZero() {
		exp := e.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

var _ pending.Sweeper = (*Dispatcher)(nil)
