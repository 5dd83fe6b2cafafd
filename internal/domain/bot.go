// Package domain holds the contracts shared between the host bot, the
// skill-side adapter, channels, and dialogs.
package domain

import (
	"context"
	"encoding/json"

	"vassist/internal/activity"
)

// ResourceResponse acknowledges a sent, updated, or deleted activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

// ActivitySender delivers outgoing activities. On the host side it is backed
// by a user channel; on the skill side by the duplex connection back to the
// calling bot.
type ActivitySender interface {
	SendActivities(ctx context.Context, activities []*activity.Activity) ([]ResourceResponse, error)
	UpdateActivity(ctx context.Context, a *activity.Activity) (ResourceResponse, error)
	DeleteActivity(ctx context.Context, activityID string) error
}

// InvokeResponse is the pipeline result a bot may attach to a turn; the
// skill-side request handler maps it onto the frame's status and body.
type InvokeResponse struct {
	Status int
	Body   json.RawMessage
}

// ClaimsIdentity is derived once per inbound connection from the bearer
// token and is immutable for the connection's lifetime.
type ClaimsIdentity struct {
	AppID    string
	AuthType string
}

// AuthTypeAnonymous marks a connection that carried no validated identity.
// Activities processed under it are not stamped with a caller ID.
const AuthTypeAnonymous = "anonymous"

// TurnContext carries one inbound activity through a bot pipeline together
// with the sender used for replies.
type TurnContext struct {
	Activity *activity.Activity
	Identity *ClaimsIdentity // nil on the host side

	sender ActivitySender
	invoke *InvokeResponse
}

// NewTurnContext binds an inbound activity to a reply sender.
func NewTurnContext(sender ActivitySender, a *activity.Activity) *TurnContext {
	return &TurnContext{Activity: a, sender: sender}
}

// SendActivity addresses a single activity and delivers it.
func (tc *TurnContext) SendActivity(ctx context.Context, a *activity.Activity) (ResourceResponse, error) {
	rr, err := tc.sender.SendActivities(ctx, []*activity.Activity{a})
	if err != nil {
		return ResourceResponse{}, err
	}
	if len(rr) == 0 {
		return ResourceResponse{}, nil
	}
	return rr[0], nil
}

// SendText replies to the turn's activity with a plain message.
func (tc *TurnContext) SendText(ctx context.Context, text string) (ResourceResponse, error) {
	reply := tc.Activity.CreateReply()
	reply.Text = text
	return tc.SendActivity(ctx, reply)
}

// SendTrace emits a diagnostic trace reply.
func (tc *TurnContext) SendTrace(ctx context.Context, text string) error {
	reply := tc.Activity.CreateReply()
	reply.Type = activity.TypeTrace
	reply.Text = text
	_, err := tc.SendActivity(ctx, reply)
	return err
}

// UpdateActivity forwards an update of a prior activity to the sender.
func (tc *TurnContext) UpdateActivity(ctx context.Context, a *activity.Activity) (ResourceResponse, error) {
	return tc.sender.UpdateActivity(ctx, a)
}

// DeleteActivity forwards a deletion of a prior activity to the sender.
func (tc *TurnContext) DeleteActivity(ctx context.Context, activityID string) error {
	return tc.sender.DeleteActivity(ctx, activityID)
}

// SetInvokeResponse attaches a pipeline result for the request handler.
func (tc *TurnContext) SetInvokeResponse(status int, body json.RawMessage) {
	tc.invoke = &InvokeResponse{Status: status, Body: body}
}

// InvokeResponse returns the attached pipeline result, or nil.
func (tc *TurnContext) InvokeResponse() *InvokeResponse {
	return tc.invoke
}

// Bot processes one turn.
type Bot interface {
	OnTurn(ctx context.Context, turn *TurnContext) error
}

// CredentialProvider supplies bearer tokens for bot-to-bot calls. Caching
// and refresh are the provider's concern, not the transport's.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// Intent is a dispatch classification result.
type Intent struct {
	Name  string
	Score float64
}

// Recognizer classifies an utterance into a dispatch intent. Natural
// language understanding itself is an external service behind this contract.
type Recognizer interface {
	Recognize(ctx context.Context, utterance string) (Intent, error)
}
