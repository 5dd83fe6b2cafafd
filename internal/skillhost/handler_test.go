package skillhost

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/rpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeConn records outgoing frames and answers each with a fixed response.
type fakeConn struct {
	sent   []*rpc.Request
	status int
	err    error
}

func (f *fakeConn) Send(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	f.sent = append(f.sent, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &rpc.Response{ID: req.ID, Status: status}, nil
}

type funcBot func(ctx context.Context, turn *domain.TurnContext) error

func (f funcBot) OnTurn(ctx context.Context, turn *domain.TurnContext) error { return f(ctx, turn) }

func bearerIdentity() *domain.ClaimsIdentity {
	return &domain.ClaimsIdentity{AppID: "host-app", AuthType: "Bearer"}
}

func messageRequest(t *testing.T, a *activity.Activity) *rpc.Request {
	t.Helper()
	req, err := rpc.NewJSONRequest(rpc.VerbPost, "/api/messages", a)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestHandle_FrameValidation(t *testing.T) {
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error { return nil })
	h := NewRequestHandler(bot, bearerIdentity(), &fakeConn{}, testLogger())

	cases := []struct {
		name string
		req  *rpc.Request
		want int
	}{
		{"missing verb", &rpc.Request{Path: "/api/messages"}, http.StatusNotFound},
		{"missing path", &rpc.Request{Verb: rpc.VerbPost}, http.StatusNotFound},
		{"wrong verb", &rpc.Request{Verb: rpc.VerbGet, Path: "/api/messages", ContentType: rpc.JSONContentType}, http.StatusNotFound},
		{"wrong path", &rpc.Request{Verb: rpc.VerbPost, Path: "/api/other", ContentType: rpc.JSONContentType}, http.StatusNotFound},
		{"wrong content type", &rpc.Request{Verb: rpc.VerbPost, Path: "/api/messages", ContentType: "text/plain"}, http.StatusNotAcceptable},
		{"empty body", &rpc.Request{Verb: rpc.VerbPost, Path: "/api/messages", ContentType: rpc.JSONContentType}, http.StatusBadRequest},
		{"malformed body", &rpc.Request{Verb: rpc.VerbPost, Path: "/api/messages", ContentType: rpc.JSONContentType, Body: json.RawMessage(`{`)}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.Handle(context.Background(), tc.req)
			if resp.Status != tc.want {
				t.Errorf("status = %d, want %d", resp.Status, tc.want)
			}
		})
	}
}

func TestHandle_StampsCallerID(t *testing.T) {
	var seen string
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		seen = turn.Activity.CallerID
		return nil
	})
	h := NewRequestHandler(bot, bearerIdentity(), &fakeConn{}, testLogger())

	resp := h.Handle(context.Background(), messageRequest(t, activity.NewMessage("hi")))
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if seen != "host-app" {
		t.Errorf("caller id = %q", seen)
	}
}

func TestHandle_AnonymousIdentityNotStamped(t *testing.T) {
	var seen string
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		seen = turn.Activity.CallerID
		return nil
	})
	anon := &domain.ClaimsIdentity{AuthType: domain.AuthTypeAnonymous}
	h := NewRequestHandler(bot, anon, &fakeConn{}, testLogger())

	h.Handle(context.Background(), messageRequest(t, activity.NewMessage("hi")))
	if seen != "" {
		t.Errorf("caller id stamped for anonymous connection: %q", seen)
	}
}

func TestHandle_BotError(t *testing.T) {
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		return errors.New("boom")
	})
	h := NewRequestHandler(bot, bearerIdentity(), &fakeConn{}, testLogger())

	resp := h.Handle(context.Background(), messageRequest(t, activity.NewMessage("hi")))
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.Status)
	}
	if len(resp.Body) != 0 {
		t.Errorf("plain errors must not leak a body: %s", resp.Body)
	}
}

func TestHandle_CallbackErrorCarriesMessage(t *testing.T) {
	bot := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		return &CallbackError{Verb: rpc.VerbPost, Path: "/activities/x", Err: errors.New("conn reset")}
	})
	h := NewRequestHandler(bot, bearerIdentity(), &fakeConn{}, testLogger())

	resp := h.Handle(context.Background(), messageRequest(t, activity.NewMessage("hi")))
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.Status)
	}
	var msg string
	if err := json.Unmarshal(resp.Body, &msg); err != nil || msg == "" {
		t.Errorf("body = %s err = %v", resp.Body, err)
	}
}

func TestHandle_InvokeMapping(t *testing.T) {
	answered := funcBot(func(ctx context.Context, turn *domain.TurnContext) error {
		turn.SetInvokeResponse(http.StatusOK, json.RawMessage(`{"ok":true}`))
		return nil
	})
	h := NewRequestHandler(answered, bearerIdentity(), &fakeConn{}, testLogger())

	invoke := &activity.Activity{Type: activity.TypeInvoke, Name: "getStatus"}
	resp := h.Handle(context.Background(), messageRequest(t, invoke))
	if resp.Status != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("resp = %d %s", resp.Status, resp.Body)
	}

	silent := funcBot(func(ctx context.Context, turn *domain.TurnContext) error { return nil })
	h = NewRequestHandler(silent, bearerIdentity(), &fakeConn{}, testLogger())
	resp = h.Handle(context.Background(), messageRequest(t, invoke))
	if resp.Status != http.StatusNotImplemented {
		t.Errorf("unanswered invoke status = %d, want 501", resp.Status)
	}
}
