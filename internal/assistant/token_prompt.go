package assistant

import (
	"context"
	"strings"

	"vassist/internal/activity"
	"vassist/internal/dialog"
)

// DefaultAuthDialogID is the id the token prompt registers under when the
// configuration does not name one.
const DefaultAuthDialogID = "auth"

// NewTokenPromptDialog builds the dialog a skill's token request interrupts
// into. It asks the user to paste an access token and ends with a
// *activity.TokenResponse, or with nil when the user declines. The skill
// dialog that began it forwards the result to the remote skill.
func NewTokenPromptDialog(id string) *dialog.Waterfall {
	return dialog.NewWaterfall(id,
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			if _, err := sc.Turn.SendText(ctx, "This skill needs access to your account. Paste an access token, or say \"cancel\"."); err != nil {
				return dialog.TurnResult{}, err
			}
			return sc.WaitNext()
		},
		func(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
			text, _ := sc.Result.(string)
			text = strings.TrimSpace(text)
			switch strings.ToLower(text) {
			case "", "cancel", "no", "never mind", "nevermind":
				return sc.End(ctx, nil)
			}
			return sc.End(ctx, &activity.TokenResponse{Token: text})
		},
	)
}
