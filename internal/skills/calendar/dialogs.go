package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vassist/internal/activity"
	"vassist/internal/dialog"
	"vassist/internal/domain"
	"vassist/internal/state"
)

// Action ids this skill serves. They match the manifest it publishes.
const (
	TimeRemainingActionID = "timeRemaining"
	CreateEventActionID   = "createEvent"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"January 2 2006",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// entityString decodes a string slot from the options an invocation carried.
// Options survive a JSON round-trip between turns, so the concrete type is
// recovered by re-marshalling.
func entityString(options any, name string) string {
	data, err := json.Marshal(options)
	if err != nil {
		return ""
	}
	var entities map[string]activity.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return ""
	}
	var s string
	if err := entities[name].Decode(&s); err != nil {
		return ""
	}
	return s
}

// newTimeRemainingDialog answers "how long until <date>". The date comes
// from the invocation's slots when the caller had it, otherwise the dialog
// prompts for it.
func newTimeRemainingDialog(clock func() time.Time) *dialog.Waterfall {
	resolve := func(ctx context.Context, sc *dialog.StepContext, raw string) (dialog.TurnResult, error) {
		target, err := parseDate(raw)
		if err != nil {
			if _, serr := sc.Turn.SendText(ctx, "I didn't catch that date. Try something like 2026-12-24."); serr != nil {
				return dialog.TurnResult{}, serr
			}
			return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
		}

		now := clock()
		if target.Before(now) {
			return dialog.TurnResult{}, &domain.SkillError{
				Kind: domain.SkillErrorAPIBadRequest,
				Msg:  fmt.Sprintf("date %s is in the past", target.Format("2006-01-02")),
			}
		}

		remaining := target.Sub(now)
		days := int(remaining.Hours()) / 24
		hours := int(remaining.Hours()) % 24
		minutes := int(remaining.Minutes()) % 60
		if _, err := sc.Turn.SendText(ctx, fmt.Sprintf(
			"There are %d days, %d hours, and %d minutes remaining until %s.",
			days, hours, minutes, target.Format("January 2, 2006"))); err != nil {
			return dialog.TurnResult{}, err
		}

		return sc.Context.End(ctx, map[string]any{
			"date":          target.Format("2006-01-02"),
			"daysRemaining": days,
		})
	}

	return dialog.NewWaterfall(TimeRemainingActionID,
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			if date := entityString(sc.Options, "date"); date != "" {
				res, err := resolve(ctx, sc, date)
				if err == nil && res.Status == dialog.StatusWaiting {
					// slot value was unusable; hand the re-prompt to the next step
					return sc.WaitNext()
				}
				return res, err
			}
			if _, err := sc.Turn.SendText(ctx, "What date should I count down to?"); err != nil {
				return dialog.TurnResult{}, err
			}
			return sc.WaitNext()
		},
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			raw, _ := sc.Result.(string)
			return resolve(ctx, sc, raw)
		},
	)
}

// newCreateEventDialog records an event for the user. It needs an access
// token, so its first step raises a token request back to the calling bot
// and the second step consumes the token response.
func newCreateEventDialog(store *state.Store, logger *slog.Logger) *dialog.Waterfall {
	return dialog.NewWaterfall(CreateEventActionID,
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			title := entityString(sc.Options, "title")
			if title == "" {
				title = strings.TrimSpace(sc.Turn.Activity.Text)
			}
			if title == "" {
				title = "Untitled event"
			}
			sc.ActiveInstance().State["title"] = title

			req := sc.Turn.Activity.CreateReply()
			req.Type = activity.TypeEvent
			req.Name = activity.TokenRequestEventName
			if _, err := sc.Turn.SendActivity(ctx, req); err != nil {
				return dialog.TurnResult{}, err
			}
			return sc.WaitNext()
		},
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			a := sc.Turn.Activity
			if a.Type != activity.TypeEvent || a.Name != activity.TokenResponseEventName {
				if _, err := sc.Turn.SendText(ctx, "I'm still waiting to be signed in."); err != nil {
					return dialog.TurnResult{}, err
				}
				return dialog.TurnResult{Status: dialog.StatusWaiting}, nil
			}

			token, err := activity.DecodeTokenResponse(a)
			if err != nil || token.Token == "" {
				return dialog.TurnResult{}, &domain.SkillError{
					Kind: domain.SkillErrorAPIUnauthorized,
					Msg:  "no usable token in response",
					Err:  err,
				}
			}

			title, _ := sc.ActiveInstance().State["title"].(string)
			if err := store.SetContextValue(ctx, a.From.ID, "lastEvent", title); err != nil {
				logger.Warn("persist event failed", "err", err)
			}

			if _, err := sc.Turn.SendText(ctx, fmt.Sprintf("Done, I've added %q to your calendar.", title)); err != nil {
				return dialog.TurnResult{}, err
			}
			return sc.Context.End(ctx, map[string]any{"title": title})
		},
	)
}
