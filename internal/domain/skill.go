package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"vassist/internal/activity"
)

// ForwardResult is what a forward call to a remote skill produced. At most
// one field is set: a terminal handoff ends the invocation, a token request
// asks the host to run its auth dialog. Both nil means the skill replied and
// is waiting for the next user turn.
type ForwardResult struct {
	Handoff      *activity.Activity
	TokenRequest *activity.Activity
}

// SkillTransport is the client side of the bot-to-bot streaming channel.
type SkillTransport interface {
	// Forward posts the activity to the skill and pumps the connection until
	// the skill's turn completes. Intermediate activities are relayed to the
	// user through turn. The caller's activity is never left mutated.
	Forward(ctx context.Context, turn *TurnContext, a *activity.Activity) (ForwardResult, error)

	// CancelRemoteDialogs asks the skill to cancel its own dialog stack.
	// Returns nil when the transport was never connected.
	CancelRemoteDialogs(ctx context.Context, turn *TurnContext) error

	// Disconnect tears down the connection. Idempotent.
	Disconnect() error
}

// SkillContextProvider exposes the per-user shared slot context. Dialogs
// read a snapshot at invocation time; mutation happens through the state
// store's own accessor discipline.
type SkillContextProvider interface {
	SkillContextSnapshot(ctx context.Context, userID string) (map[string]json.RawMessage, error)
}

// SkillErrorKind categorizes upstream-API failures raised by skill business
// dialogs.
type SkillErrorKind int

const (
	SkillErrorOther SkillErrorKind = iota
	SkillErrorAPIAccessDenied
	SkillErrorAccountNotActivated
	SkillErrorAPIBadRequest
	SkillErrorAPIUnauthorized
	SkillErrorAPIForbidden
)

func (k SkillErrorKind) String() string {
	switch k {
	case SkillErrorAPIAccessDenied:
		return "APIAccessDenied"
	case SkillErrorAccountNotActivated:
		return "AccountNotActivated"
	case SkillErrorAPIBadRequest:
		return "APIBadRequest"
	case SkillErrorAPIUnauthorized:
		return "APIUnauthorized"
	case SkillErrorAPIForbidden:
		return "APIForbidden"
	default:
		return "Other"
	}
}

// SkillError signals a categorized upstream failure inside a skill dialog.
// It is caught at the waterfall-step level and converted into a user-facing
// response plus dialog-stack cancellation; it never crosses the skill's own
// dialog boundary.
type SkillError struct {
	Kind SkillErrorKind
	Msg  string
	Err  error
}

func (e *SkillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skill error (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("skill error (%s): %s", e.Kind, e.Msg)
}

func (e *SkillError) Unwrap() error { return e.Err }
