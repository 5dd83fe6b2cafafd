// Package activity defines the message unit exchanged between user channels,
// the host bot, and remote skills. An activity is created per turn, forwarded
// or cloned as it crosses the host/skill boundary, and never persisted.
package activity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type classifies an activity.
type Type string

const (
	TypeMessage           Type = "message"
	TypeEvent             Type = "event"
	TypeTrace             Type = "trace"
	TypeHandoff           Type = "handoff"
	TypeEndOfConversation Type = "endOfConversation"
	TypeTyping            Type = "typing"
	TypeInvoke            Type = "invoke"

	// TypeDelay has no representation in the activity schema. It is honored
	// by the skill-side adapter by sleeping before sending subsequent
	// activities, emulating a client-side pause.
	TypeDelay Type = "delay"
)

// ChannelAccount identifies a sender or recipient on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Activity is a single message or event in a conversation.
type Activity struct {
	Type           Type            `json:"type"`
	ID             string          `json:"id,omitempty"`
	ReplyToID      string          `json:"replyToId,omitempty"`
	ChannelID      string          `json:"channelId,omitempty"`
	Conversation   string          `json:"conversation,omitempty"`
	From           ChannelAccount  `json:"from,omitempty"`
	Recipient      ChannelAccount  `json:"recipient,omitempty"`
	Name           string          `json:"name,omitempty"`
	Text           string          `json:"text,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	SemanticAction *SemanticAction `json:"semanticAction,omitempty"`
	CallerID       string          `json:"callerId,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a user-visible message activity.
func NewMessage(text string) *Activity {
	return &Activity{
		Type:      TypeMessage,
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewEvent creates a named event activity.
func NewEvent(name string) *Activity {
	return &Activity{
		Type:      TypeEvent,
		ID:        uuid.NewString(),
		Name:      name,
		Timestamp: time.Now().UTC(),
	}
}

// NewTrace creates a trace activity. Traces are diagnostic and are never
// relayed to a user channel other than the emulator.
func NewTrace(text string) *Activity {
	return &Activity{
		Type:      TypeTrace,
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// CreateReply builds a reply addressed back to the sender of a. The reply
// carries no ID; the sending adapter assigns one.
func (a *Activity) CreateReply() *Activity {
	return &Activity{
		Type:         TypeMessage,
		ReplyToID:    a.ID,
		ChannelID:    a.ChannelID,
		Conversation: a.Conversation,
		From:         a.Recipient,
		Recipient:    a.From,
		Timestamp:    time.Now().UTC(),
	}
}

// Clone returns a deep copy of a. Used for wire representations that must
// not mutate the caller's activity.
func (a *Activity) Clone() *Activity {
	c := *a
	if a.Value != nil {
		c.Value = append(json.RawMessage(nil), a.Value...)
	}
	if a.SemanticAction != nil {
		c.SemanticAction = a.SemanticAction.Clone()
	}
	return &c
}

// IsTerminal reports whether a signals the end of a skill conversation.
func (a *Activity) IsTerminal() bool {
	return a.Type == TypeHandoff || a.Type == TypeEndOfConversation
}
