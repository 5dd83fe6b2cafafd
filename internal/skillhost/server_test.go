package skillhost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/manifest"
	"vassist/internal/security"
)

func testServer(bot domain.Bot) *Server {
	m := &manifest.Manifest{
		ID:       "calendar",
		Name:     "Calendar",
		Endpoint: "ws://localhost:8082/api/skill/messages",
		Actions: []manifest.Action{
			{ID: "timeRemaining", Definition: manifest.ActionDefinition{
				Slots:    []manifest.Slot{{Name: "date"}},
				Triggers: manifest.Trigger{Utterances: []string{"how long until", "days until"}},
			}},
		},
	}
	return NewServer(ServerConfig{
		Bot:       bot,
		Manifest:  m,
		Validator: security.NewAnonymousValidator(),
		Logger:    testLogger(),
	})
}

func TestHandleManifest_StripsUtterancesByDefault(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.handleManifest(rec, httptest.NewRequest(http.MethodGet, "/api/skill/manifest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got manifest.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Actions) != 1 {
		t.Fatalf("actions = %+v", got.Actions)
	}
	if got.Actions[0].Definition.Triggers.Utterances != nil {
		t.Errorf("utterances served without inlineTriggerUtterances: %v", got.Actions[0].Definition.Triggers.Utterances)
	}

	// the shared manifest itself is never mutated
	if len(s.manifest.Actions[0].Definition.Triggers.Utterances) != 2 {
		t.Error("stripping mutated the server's manifest")
	}
}

func TestHandleManifest_InlineUtterances(t *testing.T) {
	s := testServer(nil)

	rec := httptest.NewRecorder()
	s.handleManifest(rec, httptest.NewRequest(http.MethodGet, "/api/skill/manifest?inlineTriggerUtterances=true", nil))
	var got manifest.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Actions[0].Definition.Triggers.Utterances) != 2 {
		t.Errorf("utterances = %v", got.Actions[0].Definition.Triggers.Utterances)
	}
}

func TestHandleManifest_GetOnly(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.handleManifest(rec, httptest.NewRequest(http.MethodPost, "/api/skill/manifest", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandlePing(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.handlePing(rec, httptest.NewRequest(http.MethodGet, "/api/skill/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["id"] != "calendar" || body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleChannel_RejectsBadAuth(t *testing.T) {
	s := testServer(nil)
	s.validator = security.NewValidator("secret", nil)

	rec := httptest.NewRecorder()
	s.handleChannel(rec, httptest.NewRequest(http.MethodGet, "/api/skill/messages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleMessages_BuffersReplies(t *testing.T) {
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		if _, err := turn.SendText(ctx, "first"); err != nil {
			return err
		}
		_, err := turn.SendText(ctx, "second")
		return err
	})
	s := testServer(bot)

	body := strings.NewReader(`{"type":"message","text":"hello","conversation":"conv-1"}`)
	rec := httptest.NewRecorder()
	s.handleMessages(rec, httptest.NewRequest(http.MethodPost, "/api/messages", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var replies []*activity.Activity
	if err := json.Unmarshal(rec.Body.Bytes(), &replies); err != nil {
		t.Fatal(err)
	}
	if len(replies) != 2 || replies[0].Text != "first" || replies[1].Text != "second" {
		t.Errorf("replies = %+v", replies)
	}
}

func TestHandleMessages_Validation(t *testing.T) {
	s := testServer(funcBot(func(ctx context.Context, turn *domain.TurnContext) error { return nil }))

	rec := httptest.NewRecorder()
	s.handleMessages(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleMessages(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleMessages(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"text":"no type"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing type status = %d", rec.Code)
	}
}

func TestBufferedSender_UpdateDeleteAndDrain(t *testing.T) {
	b := &bufferedSender{}
	ctx := context.Background()

	first := activity.NewMessage("one")
	second := activity.NewMessage("two")
	if _, err := b.SendActivities(ctx, []*activity.Activity{first, second}); err != nil {
		t.Fatal(err)
	}

	edited := activity.NewMessage("one, edited")
	edited.ID = first.ID
	if _, err := b.UpdateActivity(ctx, edited); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}
	if err := b.DeleteActivity(ctx, second.ID); err != nil {
		t.Fatalf("DeleteActivity: %v", err)
	}

	out := b.drain()
	if len(out) != 1 || out[0].Text != "one, edited" {
		t.Errorf("drained = %+v", out)
	}
	// drain resets; an empty drain is a non-nil empty slice
	if again := b.drain(); again == nil || len(again) != 0 {
		t.Errorf("second drain = %#v", again)
	}
}
