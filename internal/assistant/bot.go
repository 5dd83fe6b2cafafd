// Package assistant is the host bot: it owns the dialog stack of each
// conversation, dispatches utterances to skills, and keeps dialog state in
// the store between turns.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"vassist/internal/activity"
	"vassist/internal/bus"
	"vassist/internal/dialog"
	"vassist/internal/domain"
	"vassist/internal/state"
)

// Bot runs each inbound activity through the conversation's dialog stack.
// It implements domain.Bot.
type Bot struct {
	dialogs *dialog.Set
	store   *state.Store
	events  *bus.EventBus
	logger  *slog.Logger
}

// NewBot assembles the host bot.
func NewBot(dialogs *dialog.Set, store *state.Store, events *bus.EventBus, logger *slog.Logger) *Bot {
	return &Bot{dialogs: dialogs, store: store, events: events, logger: logger}
}

// interruptions are utterances that unwind the dialog stack before any
// dialog sees the turn.
var interruptions = map[string]bool{
	"cancel":     true,
	"never mind": true,
	"nevermind":  true,
	"start over": true,
	"stop":       true,
}

// OnTurn processes one activity. Skill failures are reported to the user and
// consumed; only infrastructure failures propagate.
func (b *Bot) OnTurn(ctx context.Context, turn *domain.TurnContext) error {
	a := turn.Activity

	st, err := b.loadState(ctx, a.Conversation)
	if err != nil {
		return err
	}
	dc := dialog.NewContext(b.dialogs, turn, st)

	if a.Type == activity.TypeMessage && interruptions[strings.ToLower(strings.TrimSpace(a.Text))] && dc.Depth() > 0 {
		if _, err := dc.CancelAll(ctx); err != nil {
			b.logger.Warn("cancel teardown failed", "conversation", a.Conversation, "err", err)
		}
		b.events.Emit(bus.Event{
			Type:    bus.EventDialogCancelled,
			Source:  "bot",
			Payload: map[string]any{"conversation": a.Conversation},
		})
		if _, err := turn.SendText(ctx, "Ok, let's start over."); err != nil {
			return err
		}
		return b.saveState(ctx, a.Conversation, dc)
	}

	result, err := dc.Continue(ctx)
	if err == nil && result.Status == dialog.StatusEmpty {
		result, err = dc.Begin(ctx, MainDialogID, nil)
	}

	if err != nil {
		b.reportTurnError(ctx, dc, err)
		// drop whatever is left on the stack so the next turn starts clean
		if _, cerr := dc.CancelAll(ctx); cerr != nil {
			b.logger.Warn("cancel after error failed", "conversation", a.Conversation, "err", cerr)
		}
	}

	return b.saveState(ctx, a.Conversation, dc)
}

// reportTurnError tells the user what went wrong in their language, not
// ours, and emits the failure on the event bus.
func (b *Bot) reportTurnError(ctx context.Context, dc *dialog.Context, err error) {
	a := dc.Turn.Activity
	b.logger.Error("turn failed", "conversation", a.Conversation, "err", err)
	b.events.Emit(bus.Event{
		Type:    bus.EventSkillError,
		Source:  "bot",
		Payload: map[string]any{"conversation": a.Conversation, "error": err.Error()},
	})

	msg := "Whoops! Something unexpected happened. Let's start over."
	var serr *domain.SkillError
	if errors.As(err, &serr) {
		switch serr.Kind {
		case domain.SkillErrorAPIAccessDenied, domain.SkillErrorAPIForbidden:
			msg = "It looks like you don't have permission to do that."
		case domain.SkillErrorAccountNotActivated:
			msg = "Your account isn't set up for that yet. Please activate it and try again."
		case domain.SkillErrorAPIUnauthorized:
			msg = "I couldn't sign you in. Please try again."
		}
	}
	if _, serr := dc.Turn.SendText(ctx, msg); serr != nil {
		b.logger.Error("send error reply failed", "conversation", a.Conversation, "err", serr)
	}
}

func (b *Bot) loadState(ctx context.Context, conversationID string) (*dialog.State, error) {
	raw, err := b.store.LoadDialogState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return &dialog.State{}, nil
	}
	var st dialog.State
	if err := json.Unmarshal(raw, &st); err != nil {
		// unreadable state is unrecoverable; start the conversation over
		b.logger.Warn("discarding corrupt dialog state", "conversation", conversationID, "err", err)
		return &dialog.State{}, nil
	}
	return &st, nil
}

func (b *Bot) saveState(ctx context.Context, conversationID string, dc *dialog.Context) error {
	raw, err := json.Marshal(dc.State())
	if err != nil {
		return err
	}
	return b.store.SaveDialogState(ctx, conversationID, raw)
}
