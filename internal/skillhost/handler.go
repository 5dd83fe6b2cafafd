package skillhost

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/metrics"
	"vassist/internal/rpc"
)

// RequestHandler validates inbound frames on a skill connection, runs each
// activity through the bot as one turn, and maps the turn's outcome to a
// response frame. One handler serves one connection; requests arrive in
// order and are processed sequentially.
type RequestHandler struct {
	bot      domain.Bot
	identity *domain.ClaimsIdentity
	conn     frameSender
	logger   *slog.Logger
}

// NewRequestHandler wires a bot to a connection under a fixed identity.
func NewRequestHandler(bot domain.Bot, identity *domain.ClaimsIdentity, conn frameSender, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{bot: bot, identity: identity, conn: conn, logger: logger}
}

// Handle is an rpc.Handler.
func (h *RequestHandler) Handle(ctx context.Context, req *rpc.Request) *rpc.Response {
	if req.Verb == "" || req.Path == "" {
		h.logger.Warn("frame missing verb or path", "verb", req.Verb, "path", req.Path)
		return &rpc.Response{Status: http.StatusNotFound}
	}
	if req.Verb != rpc.VerbPost || !strings.HasPrefix(req.Path, "/api/messages") {
		h.logger.Warn("unrouted frame", "verb", req.Verb, "path", req.Path)
		return &rpc.Response{Status: http.StatusNotFound}
	}
	if req.ContentType != rpc.JSONContentType {
		h.logger.Warn("unsupported content type", "contentType", req.ContentType)
		return &rpc.Response{Status: http.StatusNotAcceptable}
	}
	if len(req.Body) == 0 {
		h.logger.Error("empty request body")
		metrics.HandlerErrorsTotal.Inc()
		return &rpc.Response{Status: http.StatusBadRequest}
	}

	var a activity.Activity
	if err := json.Unmarshal(req.Body, &a); err != nil {
		h.logger.Error("undeserializable activity", "err", err)
		metrics.HandlerErrorsTotal.Inc()
		return &rpc.Response{Status: http.StatusBadRequest}
	}

	return h.processActivity(ctx, &a)
}

func (h *RequestHandler) processActivity(ctx context.Context, a *activity.Activity) *rpc.Response {
	if h.identity != nil && h.identity.AuthType != domain.AuthTypeAnonymous {
		a.CallerID = h.identity.AppID
	}

	adapter := NewAdapter(h.conn, a, h.logger)
	turn := domain.NewTurnContext(adapter, a)
	turn.Identity = h.identity

	turnCtx, cancel := context.WithCancel(ctx)
	err := h.bot.OnTurn(turnCtx, turn)
	cancel()

	if err != nil {
		metrics.HandlerErrorsTotal.Inc()
		var cbe *CallbackError
		if errors.As(err, &cbe) {
			h.logger.Error("callback to caller failed", "verb", cbe.Verb, "path", cbe.Path, "err", cbe.Err)
			body, _ := json.Marshal(cbe.Error())
			return &rpc.Response{Status: http.StatusInternalServerError, Body: body}
		}
		h.logger.Error("turn failed", "activityType", a.Type, "err", err)
		return &rpc.Response{Status: http.StatusInternalServerError}
	}

	if a.Type == activity.TypeInvoke {
		if ir := turn.InvokeResponse(); ir != nil {
			return &rpc.Response{Status: ir.Status, Body: ir.Body}
		}
		return &rpc.Response{Status: http.StatusNotImplemented}
	}

	return &rpc.Response{Status: http.StatusOK}
}
