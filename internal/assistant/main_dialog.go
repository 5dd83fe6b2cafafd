package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"vassist/internal/activity"
	"vassist/internal/bus"
	"vassist/internal/dialog"
	"vassist/internal/domain"
	"vassist/internal/manifest"
)

// MainDialogID is the root dialog every conversation runs under.
const MainDialogID = "main"

// MainDialog is the root of the host conversation: it greets, classifies
// each utterance, and hands matching turns off to the wrapping skill dialog.
type MainDialog struct {
	dialog.Base

	router     *manifest.Router
	recognizer domain.Recognizer
	events     *bus.EventBus
	name       string
	logger     *slog.Logger
}

// NewMainDialog builds the root dialog.
func NewMainDialog(router *manifest.Router, recognizer domain.Recognizer, events *bus.EventBus, name string, logger *slog.Logger) *MainDialog {
	if name == "" {
		name = "vassist"
	}
	return &MainDialog{
		router:     router,
		recognizer: recognizer,
		events:     events,
		name:       name,
		logger:     logger,
	}
}

func (d *MainDialog) ID() string { return MainDialogID }

func (d *MainDialog) Begin(ctx context.Context, dc *dialog.Context, options any) (dialog.TurnResult, error) {
	a := dc.Turn.Activity

	if a.Type == activity.TypeEvent {
		return d.onEvent(ctx, dc, a)
	}
	if a.Type == activity.TypeMessage && a.Text != "" {
		return d.dispatch(ctx, dc, a)
	}
	return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
}

func (d *MainDialog) Continue(ctx context.Context, dc *dialog.Context) (dialog.TurnResult, error) {
	a := dc.Turn.Activity

	switch a.Type {
	case activity.TypeEvent:
		return d.onEvent(ctx, dc, a)
	case activity.TypeMessage:
		if a.Text == "" {
			return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
		}
		return d.dispatch(ctx, dc, a)
	default:
		return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
	}
}

// Resume runs after a skill dialog hands the conversation back.
func (d *MainDialog) Resume(ctx context.Context, dc *dialog.Context, result any) (dialog.TurnResult, error) {
	d.events.Emit(bus.Event{
		Type:    bus.EventSkillHandoff,
		Source:  MainDialogID,
		Payload: map[string]any{"conversation": dc.Turn.Activity.Conversation},
	})
	return dialog.TurnResult{Status: dialog.StatusWaiting, Result: result}, nil
}

func (d *MainDialog) onEvent(ctx context.Context, dc *dialog.Context, a *activity.Activity) (dialog.TurnResult, error) {
	switch a.Name {
	case activity.StartConversationEventName, activity.DeviceStartEventName:
		greeting := fmt.Sprintf("Hi! I'm %s. What can I help you with?", d.name)
		if _, err := dc.Turn.SendText(ctx, greeting); err != nil {
			return dialog.TurnResult{}, err
		}
	default:
		d.logger.Debug("unhandled event", "name", a.Name)
	}
	return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
}

func (d *MainDialog) dispatch(ctx context.Context, dc *dialog.Context, a *activity.Activity) (dialog.TurnResult, error) {
	intent, err := d.recognizer.Recognize(ctx, a.Text)
	if err != nil {
		return dialog.TurnResult{}, fmt.Errorf("recognize utterance: %w", err)
	}

	if intent.Name != "" {
		if m, actionID := d.router.FindSkill(intent.Name); m != nil {
			d.events.Emit(bus.Event{
				Type:    bus.EventSkillInvoked,
				Source:  MainDialogID,
				Payload: map[string]any{"skill": m.ID, "action": actionID},
			})
			return dc.Begin(ctx, m.ID, dialog.Options{Action: actionID})
		}
	}

	if _, err := dc.Turn.SendText(ctx, "I'm not sure how to help with that. Could you try asking differently?"); err != nil {
		return dialog.TurnResult{}, err
	}
	return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
}
