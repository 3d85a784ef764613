package dispatcher

import (
	"fmt"
	"time"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/classifier"
)

// OutcomeKind is one of the three states presented to callers.
type OutcomeKind string

const (
	Executed    OutcomeKind = "executed"
	PinRequired OutcomeKind = "pin_required"
	Rejected    OutcomeKind = "rejected"
)

// Reason explains a Rejected outcome.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonAuthorizationRejected Reason = "authorization_rejected"
	ReasonVerificationFailed    Reason = "verification_failed"
	ReasonLockedOut             Reason = "locked_out"
	ReasonUnknownActionKind     Reason = "unknown_action_kind"
	ReasonAlreadyPending        Reason = "already_pending"
	ReasonNoPendingAction       Reason = "no_pending_action"
	ReasonCancelled             Reason = "cancelled"
	ReasonInvalidParameters     Reason = "invalid_parameters"
	ReasonThrottled             Reason = "throttled"
	ReasonCredentialUnavailable Reason = "credential_unavailable"
)

// State of the dispatcher.
type State string

const (
	StateIdle        State = "idle"
	StateAwaitingPIN State = "awaiting_pin"
)

// PendingView is a read-only snapshot of the staged action.
type PendingView struct {
	ID         string        `json:"id"`
	Kind       action.Kind   `json:"kind"`
	Parameters action.Params `json:"parameters,omitempty"`
	OriginText string        `json:"origin_text,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	Remaining  int           `json:"attempts_remaining"`
}

// Outcome is the result of Submit, Confirm and CancelPending.
type Outcome struct {
	Kind    OutcomeKind    `json:"outcome"`
	Result  *action.Result `json:"result,omitempty"`
	Reason  Reason         `json:"reason,omitempty"`
	Message string         `json:"message"`
	// Remaining is set for PinRequired and VerificationFailed.
	Remaining int                 `json:"attempts_remaining,omitempty"`
	Pending   *PendingView        `json:"pending,omitempty"`
	Verdict   *classifier.Verdict `json:"verdict,omitempty"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case Executed:
		if o.Result != nil && !o.Result.Success {
			return "executed(failed)"
		}
		return "executed"
	case Rejected:
		if o.Reason == ReasonVerificationFailed {
			return fmt.Sprintf("rejected(%s, %d)", o.Reason, o.Remaining)
		}
		return fmt.Sprintf("rejected(%s)", o.Reason)
	default:
		return string(o.Kind)
	}
}

// Succeeded reports an Executed outcome whose handler reported success.
func (o Outcome) Succeeded() bool {
	return o.Kind == Executed && o.Result != nil && o.Result.Success
}

func executed(res action.Result) Outcome {
	return Outcome{Kind: Executed, Result: &res, Message: res.Message}
}

func rejected(reason Reason, format string, args ...any) Outcome {
	return Outcome{Kind: Rejected, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
