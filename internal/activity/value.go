package activity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Known payload kinds carried in Activity.Value. Each kind gets a typed
// representation with explicit encode/decode instead of an open property bag.

// TokenResponse is the payload of a tokens/response event.
type TokenResponse struct {
	ConnectionName string    `json:"connectionName,omitempty"`
	Token          string    `json:"token"`
	Expiration     time.Time `json:"expiration,omitempty"`
}

// delayValue is the payload of a delay pseudo-activity.
type delayValue struct {
	Milliseconds int `json:"milliseconds"`
}

// NewTokenResponseEvent wraps a token into a tokens/response event replying
// to the given token-request activity.
func NewTokenResponseEvent(tokenRequest *Activity, token *TokenResponse) (*Activity, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("encode token response: %w", err)
	}
	ev := tokenRequest.CreateReply()
	ev.Type = TypeEvent
	ev.Name = TokenResponseEventName
	ev.Value = data
	return ev, nil
}

// DecodeTokenResponse extracts the token payload from a tokens/response event.
func DecodeTokenResponse(a *Activity) (*TokenResponse, error) {
	if a.Type != TypeEvent || a.Name != TokenResponseEventName {
		return nil, fmt.Errorf("activity is not a %s event", TokenResponseEventName)
	}
	var tr TokenResponse
	if err := json.Unmarshal(a.Value, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tr, nil
}

// NewDelay creates a delay pseudo-activity.
func NewDelay(d time.Duration) *Activity {
	data, _ := json.Marshal(delayValue{Milliseconds: int(d.Milliseconds())})
	return &Activity{Type: TypeDelay, Value: data}
}

// DecodeDelay extracts the duration from a delay pseudo-activity.
// Returns zero when the payload is absent or malformed.
func DecodeDelay(a *Activity) time.Duration {
	if a.Type != TypeDelay || len(a.Value) == 0 {
		return 0
	}
	var dv delayValue
	if err := json.Unmarshal(a.Value, &dv); err != nil {
		// legacy form: bare integer of milliseconds
		var ms int
		if err := json.Unmarshal(a.Value, &ms); err != nil {
			return 0
		}
		dv.Milliseconds = ms
	}
	if dv.Milliseconds < 0 {
		return 0
	}
	return time.Duration(dv.Milliseconds) * time.Millisecond
}
