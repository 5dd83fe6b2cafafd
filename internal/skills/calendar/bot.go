// Package calendar is a sample skill: it answers countdown questions and
// records events, exercising slot input, multi-turn prompts, token requests,
// and categorized failures.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"vassist/internal/activity"
	"vassist/internal/dialog"
	"vassist/internal/domain"
	"vassist/internal/state"
)

// Bot is the calendar skill's turn handler. It implements domain.Bot for
// the skill host server.
type Bot struct {
	dialogs *dialog.Set
	store   *state.Store
	logger  *slog.Logger
}

// NewBot assembles the calendar skill.
func NewBot(store *state.Store, logger *slog.Logger) *Bot {
	dialogs := dialog.NewSet().
		Add(newTimeRemainingDialog(time.Now)).
		Add(newCreateEventDialog(store, logger))
	return &Bot{dialogs: dialogs, store: store, logger: logger}
}

// OnTurn routes one activity from the calling bot through the skill's own
// dialog stack.
func (b *Bot) OnTurn(ctx context.Context, turn *domain.TurnContext) error {
	a := turn.Activity

	st, err := b.loadState(ctx, a.Conversation)
	if err != nil {
		return err
	}
	dc := dialog.NewContext(b.dialogs, turn, st)

	if a.Type == activity.TypeEvent && a.Name == activity.CancelAllSkillDialogsEventName {
		if _, err := dc.CancelAll(ctx); err != nil {
			b.logger.Warn("cancel teardown failed", "conversation", a.Conversation, "err", err)
		}
		if err := b.saveState(ctx, a.Conversation, dc); err != nil {
			return err
		}
		return b.sendHandoff(ctx, turn, nil)
	}

	result, err := dc.Continue(ctx)
	if err == nil && result.Status == dialog.StatusEmpty {
		var opts any
		if a.SemanticAction != nil && len(a.SemanticAction.Entities) > 0 {
			opts = a.SemanticAction.Entities
		}
		result, err = dc.Begin(ctx, b.rootDialogID(a), opts)
	}

	if err != nil {
		if handled := b.handleSkillError(ctx, dc, err); handled {
			if serr := b.saveState(ctx, a.Conversation, dc); serr != nil {
				return serr
			}
			return b.sendHandoff(ctx, turn, nil)
		}
		return err
	}

	if err := b.saveState(ctx, a.Conversation, dc); err != nil {
		return err
	}

	if result.Status == dialog.StatusComplete {
		return b.sendHandoff(ctx, turn, result.Result)
	}
	return nil
}

// rootDialogID picks the dialog a fresh invocation starts in: the semantic
// action when the skill serves it, the countdown dialog otherwise.
func (b *Bot) rootDialogID(a *activity.Activity) string {
	if a.SemanticAction != nil && a.SemanticAction.ID != "" {
		if _, ok := b.dialogs.Find(a.SemanticAction.ID); ok {
			return a.SemanticAction.ID
		}
		b.logger.Warn("unknown action, falling back", "action", a.SemanticAction.ID)
	}
	return TimeRemainingActionID
}

// handleSkillError converts a categorized skill failure into a user-facing
// message and unwinds the stack. Other errors are left for the caller.
func (b *Bot) handleSkillError(ctx context.Context, dc *dialog.Context, err error) bool {
	var serr *domain.SkillError
	if !errors.As(err, &serr) {
		return false
	}

	b.logger.Error("skill dialog failed", "kind", serr.Kind.String(), "err", err)

	msg := "Sorry, I wasn't able to do that."
	switch serr.Kind {
	case domain.SkillErrorAPIBadRequest:
		msg = "Sorry, that request didn't make sense to me: " + serr.Msg
	case domain.SkillErrorAPIUnauthorized:
		msg = "I couldn't get permission to access your calendar."
	case domain.SkillErrorAPIForbidden, domain.SkillErrorAPIAccessDenied:
		msg = "You don't have access to that calendar."
	case domain.SkillErrorAccountNotActivated:
		msg = "Your calendar account isn't activated yet."
	}
	if _, err := dc.Turn.SendText(ctx, msg); err != nil {
		b.logger.Error("send failure reply failed", "err", err)
	}
	if _, err := dc.CancelAll(ctx); err != nil {
		b.logger.Warn("cancel after skill error failed", "err", err)
	}
	return true
}

// sendHandoff returns the conversation to the calling bot, carrying the
// dialog's result entities when there are any.
func (b *Bot) sendHandoff(ctx context.Context, turn *domain.TurnContext, result any) error {
	handoff := turn.Activity.CreateReply()
	handoff.Type = activity.TypeHandoff

	if result != nil {
		if entries, ok := result.(map[string]any); ok && len(entries) > 0 {
			entities := make(map[string]activity.Entity, len(entries))
			for k, v := range entries {
				e, err := activity.NewEntity(v)
				if err != nil {
					b.logger.Warn("encode result entity failed", "name", k, "err", err)
					continue
				}
				entities[k] = e
			}
			handoff.SemanticAction = &activity.SemanticAction{Entities: entities}
		}
	}

	_, err := turn.SendActivity(ctx, handoff)
	return err
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
