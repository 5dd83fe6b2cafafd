package skillhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/manifest"
	"vassist/internal/metrics"
	"vassist/internal/rpc"
	"vassist/internal/security"
)

// ServerConfig configures the skill host server.
type ServerConfig struct {
	Port      int
	Bot       domain.Bot
	Manifest  *manifest.Manifest
	Validator *security.Validator
	Logger    *slog.Logger
}

// Server exposes one skill over three surfaces: the duplex websocket channel
// for calling bots, the manifest endpoint for discovery, and a plain HTTP
// activity endpoint for local testing.
type Server struct {
	port      int
	bot       domain.Bot
	manifest  *manifest.Manifest
	validator *security.Validator
	logger    *slog.Logger
	server    *http.Server
}

var skillUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer builds a skill host server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8082
	}
	return &Server{
		port:      cfg.Port,
		bot:       cfg.Bot,
		manifest:  cfg.Manifest,
		validator: cfg.Validator,
		logger:    cfg.Logger,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/skill/messages", s.handleChannel)
	mux.HandleFunc("/api/skill/manifest", s.handleManifest)
	mux.HandleFunc("/api/skill/ping", s.handlePing)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/metrics", metrics.Collector.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("skill host starting", "skill", s.manifest.ID, "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleChannel upgrades the request to the duplex skill channel. The bearer
// token is validated once, on connect; the identity holds for every frame on
// the connection.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	identity, err := s.validator.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		s.logger.Warn("skill channel auth failed", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := skillUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("skill channel upgrade failed", "err", err)
		return
	}

	conn := rpc.NewConn(ws, s.logger)
	handler := NewRequestHandler(s.bot, identity, conn, s.logger)
	conn.Start(handler.Handle)

	metrics.ActiveSkillConns.Inc()
	s.logger.Info("skill channel connected", "caller", identity.AppID, "remote", r.RemoteAddr)

	conn.Wait()
	metrics.ActiveSkillConns.Dec()
	s.logger.Info("skill channel closed", "caller", identity.AppID)
}

// handleManifest serves the skill manifest. Trigger utterances are included
// only when the caller asks for them inline.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	inline := r.URL.Query().Get("inlineTriggerUtterances") == "true"
	m := *s.manifest
	if !inline {
		actions := make([]manifest.Action, len(m.Actions))
		for i, a := range m.Actions {
			a.Definition.Triggers.Utterances = nil
			actions[i] = a
		}
		m.Actions = actions
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(&m); err != nil {
		s.logger.Error("encode manifest failed", "err", err)
	}
}

// handlePing answers authenticated health probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if _, err := s.validator.Authenticate(r.Header.Get("Authorization")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"id":%q,"status":"healthy"}`, s.manifest.ID)
}

// handleMessages runs one activity through the bot over plain HTTP and
// returns the replies as a JSON array. Local development surface only; it
// cannot carry multi-frame exchanges like token requests.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var a activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}
	if a.Type == "" {
		http.Error(w, "activity type required", http.StatusBadRequest)
		return
	}

	sender := &bufferedSender{}
	turn := domain.NewTurnContext(sender, &a)

	if err := s.bot.OnTurn(r.Context(), turn); err != nil {
		metrics.HandlerErrorsTotal.Inc()
		s.logger.Error("turn failed", "activityType", a.Type, "err", err)
		http.Error(w, "turn failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(sender.drain()); err != nil {
		s.logger.Error("encode replies failed", "err", err)
	}
}

// bufferedSender collects a turn's outgoing activities in memory.
type bufferedSender struct {
	mu   sync.Mutex
	sent []*activity.Activity
}

func (b *bufferedSender) SendActivities(ctx context.Context, activities []*activity.Activity) ([]domain.ResourceResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rr := make([]domain.ResourceResponse, len(activities))
	for i, a := range activities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Type != activity.TypeDelay {
			b.sent = append(b.sent, a)
		}
		rr[i] = domain.ResourceResponse{ID: a.ID}
	}
	return rr, nil
}

func (b *bufferedSender) UpdateActivity(ctx context.Context, a *activity.Activity) (domain.ResourceResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, prev := range b.sent {
		if prev.ID == a.ID {
			b.sent[i] = a
			return domain.ResourceResponse{ID: a.ID}, nil
		}
	}
	return domain.ResourceResponse{}, fmt.Errorf("activity %q not found", a.ID)
}

func (b *bufferedSender) DeleteActivity(ctx context.Context, activityID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, prev := range b.sent {
		if prev.ID == activityID {
			b.sent = append(b.sent[:i], b.sent[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("activity %q not found", activityID)
}

func (b *bufferedSender) drain() []*activity.Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sent
	b.sent = nil
	if out == nil {
		out = []*activity.Activity{}
	}
	return out
}
