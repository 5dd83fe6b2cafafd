// Package transport implements the client side of the bot-to-bot streaming
// channel: it opens one persistent duplex connection per dialog lifetime,
// posts activities to the skill, and classifies the frames the skill pushes
// back during the turn.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/manifest"
	"vassist/internal/metrics"
	"vassist/internal/rpc"
)

// Transport forwards activities to one skill over a lazily-opened websocket.
// It implements domain.SkillTransport.
type Transport struct {
	manifest *manifest.Manifest
	creds    domain.CredentialProvider
	logger   *slog.Logger

	mu   sync.Mutex
	conn *rpc.Conn

	// turn holds the state of the forward call in flight. The rpc dispatch
	// worker fills handoff/tokenRequest while Forward waits on Send.
	turnMu       sync.Mutex
	relay        *domain.TurnContext
	handoff      *activity.Activity
	tokenRequest *activity.Activity
}

// New builds a transport bound to one skill manifest.
func New(m *manifest.Manifest, creds domain.CredentialProvider, logger *slog.Logger) *Transport {
	return &Transport{manifest: m, creds: creds, logger: logger}
}

// Forward posts the activity to the skill and blocks until the skill's turn
// completes. Activities the skill pushes back during the turn are relayed to
// the user via turn, except for the terminal handoff and token-request
// events, which are captured into the result.
//
// The caller's activity is never mutated: the wire representation carries
// the skill's app id as recipient, on a copy.
func (t *Transport) Forward(ctx context.Context, turn *domain.TurnContext, a *activity.Activity) (domain.ForwardResult, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		metrics.ForwardErrorsTotal.Inc()
		return domain.ForwardResult{}, err
	}

	t.turnMu.Lock()
	t.relay = turn
	t.handoff = nil
	t.tokenRequest = nil
	t.turnMu.Unlock()

	wire := a.Clone()
	wire.Recipient.ID = t.manifest.MSAAppID
	req, err := rpc.NewJSONRequest(rpc.VerbPost, "/api/messages", wire)
	if err != nil {
		return domain.ForwardResult{}, fmt.Errorf("encode activity for skill %q: %w", t.manifest.ID, err)
	}

	start := time.Now()
	resp, err := conn.Send(ctx, req)
	metrics.ForwardLatency.ObserveSince(start)
	metrics.ForwardsTotal.Inc()
	if err != nil {
		metrics.ForwardErrorsTotal.Inc()
		return domain.ForwardResult{}, fmt.Errorf("forward to skill %q: %w", t.manifest.ID, err)
	}
	if resp.Status >= http.StatusBadRequest {
		metrics.ForwardErrorsTotal.Inc()
		return domain.ForwardResult{}, fmt.Errorf("skill %q rejected activity: status %d: %s", t.manifest.ID, resp.Status, strings.TrimSpace(string(resp.Body)))
	}

	t.turnMu.Lock()
	result := domain.ForwardResult{Handoff: t.handoff, TokenRequest: t.tokenRequest}
	t.relay = nil
	t.turnMu.Unlock()

	return result, nil
}

// CancelRemoteDialogs sends a synthetic cancel event so the skill can tear
// down its own dialog stack. A transport that never connected has nothing
// to cancel and returns nil.
func (t *Transport) CancelRemoteDialogs(ctx context.Context, turn *domain.TurnContext) error {
	t.mu.Lock()
	connected := t.conn != nil
	t.mu.Unlock()
	if !connected {
		return nil
	}

	cancelEv := turn.Activity.CreateReply()
	cancelEv.Type = activity.TypeEvent
	cancelEv.Name = activity.CancelAllSkillDialogsEventName
	// swap addressing back: the cancel originates from the host
	cancelEv.From, cancelEv.Recipient = turn.Activity.From, turn.Activity.Recipient

	if _, err := t.Forward(ctx, turn, cancelEv); err != nil {
		return fmt.Errorf("cancel remote dialogs on skill %q: %w", t.manifest.ID, err)
	}
	return nil
}

// Disconnect closes the connection if one is open. Idempotent.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	metrics.ActiveSkillConns.Dec()
	return conn.Close()
}

func (t *Transport) connect(ctx context.Context) (*rpc.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	// token acquired per forward; the credential provider caches/refreshes
	token, err := t.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token for skill %q: %w", t.manifest.ID, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := rpc.Dial(ctx, t.manifest.Endpoint, header, t.handleSkillRequest, t.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to skill %q: %w", t.manifest.ID, err)
	}

	t.logger.Info("skill channel connected", "skill", t.manifest.ID, "endpoint", t.manifest.Endpoint)
	metrics.ActiveSkillConns.Inc()
	t.conn = conn
	return conn, nil
}

// handleSkillRequest classifies each frame the skill pushes back on the
// reverse channel during a forward call.
func (t *Transport) handleSkillRequest(ctx context.Context, req *rpc.Request) *rpc.Response {
	var a activity.Activity
	if len(req.Body) == 0 || json.Unmarshal(req.Body, &a) != nil || a.Type == "" {
		return &rpc.Response{Status: http.StatusBadRequest}
	}

	t.turnMu.Lock()
	relay := t.relay
	t.turnMu.Unlock()
	if relay == nil {
		t.logger.Warn("skill sent activity outside a turn, dropping", "skill", t.manifest.ID, "type", a.Type)
		return &rpc.Response{Status: http.StatusConflict}
	}

	switch {
	case a.Type == activity.TypeEvent && a.Name == activity.TokenRequestEventName:
		metrics.TokenRequestsTotal.Inc()
		t.turnMu.Lock()
		t.tokenRequest = &a
		t.turnMu.Unlock()

	case a.IsTerminal():
		t.turnMu.Lock()
		t.handoff = &a
		t.turnMu.Unlock()

	default:
		if err := t.relayActivity(ctx, relay, req.Verb, &a); err != nil {
			t.logger.Error("relay skill activity failed", "skill", t.manifest.ID, "err", err)
			return &rpc.Response{Status: http.StatusInternalServerError}
		}
	}

	body, _ := json.Marshal(domain.ResourceResponse{ID: a.ID})
	return &rpc.Response{Status: http.StatusOK, Body: body}
}

func (t *Transport) relayActivity(ctx context.Context, relay *domain.TurnContext, verb string, a *activity.Activity) error {
	switch verb {
	case rpc.VerbPut:
		_, err := relay.UpdateActivity(ctx, a)
		return err
	case rpc.VerbDelete:
		return relay.DeleteActivity(ctx, a.ID)
	default:
		_, err := relay.SendActivity(ctx, a)
		return err
	}
}
