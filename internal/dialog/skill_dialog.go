package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/manifest"
)

// Options selects the skill action a SkillDialog is begun with. An empty
// Action forwards slots for the union of every action the skill declares.
type Options struct {
	Action string
}

// SkillDialogConfig wires a SkillDialog's collaborators.
type SkillDialogConfig struct {
	Manifest *manifest.Manifest
	// NewTransport builds the transport for one invocation session. The
	// connection it opens lives for the dialog's lifetime.
	NewTransport func() domain.SkillTransport
	// AuthDialogID names the injected auth dialog run on a token request.
	// Empty disables auth; a token request then cancels the invocation.
	AuthDialogID string
	// Context supplies the per-user slot values read at Begin.
	Context domain.SkillContextProvider
	Logger  *slog.Logger
}

// SkillDialog hands conversation turns off to a remote skill and resumes
// the host conversation when the skill signals completion. Its dialog id is
// the id of the skill it wraps.
//
// Per conversation it holds an invocation session: the transport connection,
// a FIFO of token-response events awaiting forwarding, and the auth-declined
// flag. The session is destroyed when the dialog ends, is cancelled, or is
// replaced.
type SkillDialog struct {
	cfg SkillDialogConfig

	mu       sync.Mutex
	sessions map[string]*skillSession // keyed by conversation id
}

type skillSession struct {
	transport domain.SkillTransport

	mu            sync.Mutex
	queued        []*activity.Activity
	authCancelled bool
	tokenRequest  *activity.Activity // pending request the auth dialog answers
}

func (s *skillSession) enqueue(a *activity.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, a)
}

func (s *skillSession) dequeue() *activity.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) == 0 {
		return nil
	}
	a := s.queued[0]
	s.queued = s.queued[1:]
	return a
}

// NewSkillDialog builds a dialog wrapping one skill manifest.
func NewSkillDialog(cfg SkillDialogConfig) *SkillDialog {
	return &SkillDialog{cfg: cfg, sessions: make(map[string]*skillSession)}
}

func (d *SkillDialog) ID() string { return d.cfg.Manifest.ID }

func (d *SkillDialog) Begin(ctx context.Context, dc *Context, options any) (TurnResult, error) {
	sess := d.session(dc, true)
	a := dc.Turn.Activity

	var actionName string
	if opts, ok := options.(Options); ok {
		actionName = opts.Action
	} else if opts, ok := options.(*Options); ok && opts != nil {
		actionName = opts.Action
	}

	// a caller that pre-populated the semantic action is never overwritten
	if a.SemanticAction == nil {
		sa, err := d.buildSemanticAction(ctx, a, actionName)
		if err != nil {
			d.drop(dc)
			return TurnResult{}, err
		}
		a.SemanticAction = sa
	}

	_ = dc.Turn.SendTrace(ctx, fmt.Sprintf("-->Handing off to the %s skill.", d.cfg.Manifest.Name))

	return d.forwardLoop(ctx, dc, sess, a)
}

func (d *SkillDialog) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	sess := d.session(dc, true)
	return d.forwardLoop(ctx, dc, sess, dc.Turn.Activity)
}

// Resume receives the injected auth dialog's outcome. A completed token is
// wrapped into a tokens/response event and queued for forwarding; anything
// else marks the session auth-cancelled, which tears the invocation down on
// the next loop iteration.
func (d *SkillDialog) Resume(ctx context.Context, dc *Context, result any) (TurnResult, error) {
	sess := d.session(dc, true)

	if token, ok := result.(*activity.TokenResponse); ok && token != nil && token.Token != "" {
		req := sess.takeTokenRequest()
		if req == nil {
			req = dc.Turn.Activity
		}
		ev, err := activity.NewTokenResponseEvent(req, token)
		if err != nil {
			return TurnResult{}, err
		}
		sess.enqueue(ev)
	} else {
		sess.mu.Lock()
		sess.authCancelled = true
		sess.mu.Unlock()
	}

	return d.forwardLoop(ctx, dc, sess, nil)
}

// End is the teardown hook. On cancel or replace it asks the skill to
// cancel its own dialog stack first; that attempt never fails the teardown,
// including when the transport was never connected.
func (d *SkillDialog) End(ctx context.Context, dc *Context, reason Reason) error {
	d.mu.Lock()
	sess := d.sessions[d.conversation(dc)]
	delete(d.sessions, d.conversation(dc))
	d.mu.Unlock()
	if sess == nil {
		return nil
	}

	if reason == ReasonCancelCalled || reason == ReasonReplaceCalled {
		if err := sess.transport.CancelRemoteDialogs(ctx, dc.Turn); err != nil {
			d.cfg.Logger.Warn("cancel remote dialogs failed", "skill", d.cfg.Manifest.ID, "err", err)
		}
	}
	if err := sess.transport.Disconnect(); err != nil {
		d.cfg.Logger.Debug("skill transport disconnect failed", "skill", d.cfg.Manifest.ID, "err", err)
	}
	return nil
}

// forwardLoop drives the invocation: forward the activity, then resolve
// whatever the skill's turn produced. Queued token responses are drained
// strictly sequentially; each is fully resolved (including another auth
// round-trip) before the next is dequeued.
func (d *SkillDialog) forwardLoop(ctx context.Context, dc *Context, sess *skillSession, a *activity.Activity) (TurnResult, error) {
	for {
		sess.mu.Lock()
		cancelled := sess.authCancelled
		sess.mu.Unlock()
		if cancelled {
			if err := sess.transport.CancelRemoteDialogs(ctx, dc.Turn); err != nil {
				d.cfg.Logger.Warn("cancel remote dialogs failed", "skill", d.cfg.Manifest.ID, "err", err)
			}
			_ = sess.transport.Disconnect()
			d.drop(dc)
			return dc.End(ctx, nil)
		}

		if a == nil {
			if a = sess.dequeue(); a == nil {
				return TurnResult{Status: StatusWaiting}, nil
			}
		}

		res, err := sess.transport.Forward(ctx, dc.Turn, a)
		if err != nil {
			// take the dialog off the stack before propagating, so the
			// turn-level error handler logs exactly once
			d.drop(dc)
			_ = sess.transport.Disconnect()
			if cancelErr := dc.CancelActive(ctx); cancelErr != nil {
				d.cfg.Logger.Debug("remove failed skill dialog", "err", cancelErr)
			}
			return TurnResult{}, err
		}

		if res.Handoff != nil {
			_ = dc.Turn.SendTrace(ctx, fmt.Sprintf("<--Ending the skill conversation with the %s skill and handing off to parent bot.", d.cfg.Manifest.Name))
			_ = sess.transport.Disconnect()
			d.drop(dc)
			var result any
			if res.Handoff.SemanticAction != nil {
				result = res.Handoff.SemanticAction.Entities
			}
			return dc.End(ctx, result)
		}

		if res.TokenRequest != nil {
			if d.cfg.AuthDialogID == "" {
				d.cfg.Logger.Warn("skill requested a token but no auth dialog is configured", "skill", d.cfg.Manifest.ID)
				sess.mu.Lock()
				sess.authCancelled = true
				sess.mu.Unlock()
				a = nil
				continue
			}
			sess.mu.Lock()
			sess.tokenRequest = res.TokenRequest
			sess.mu.Unlock()
			// a synchronous auth completion re-enters through Resume;
			// a multi-turn auth returns Waiting and resumes on a later turn
			return dc.Begin(ctx, d.cfg.AuthDialogID, nil)
		}

		a = nil // plain replies were relayed by the transport; drain the queue
	}
}

func (d *SkillDialog) buildSemanticAction(ctx context.Context, a *activity.Activity, actionName string) (*activity.SemanticAction, error) {
	sa := &activity.SemanticAction{
		ID:       actionName,
		State:    activity.StateStart,
		Entities: make(map[string]activity.Entity),
	}

	var slots []manifest.Slot
	if actionName != "" {
		action := d.cfg.Manifest.Action(actionName)
		if action == nil {
			return nil, fmt.Errorf("action %q not found in the %s skill manifest", actionName, d.cfg.Manifest.ID)
		}
		slots = action.Definition.Slots
	} else {
		// no action identified: offer every slot the skill knows about
		slots = d.cfg.Manifest.DistinctSlots()
	}

	if d.cfg.Context == nil || len(slots) == 0 {
		return sa, nil
	}

	values, err := d.cfg.Context.SkillContextSnapshot(ctx, a.From.ID)
	if err != nil {
		return nil, fmt.Errorf("read skill context for %q: %w", a.From.ID, err)
	}

	// exact name matches only: no partial matching, no type coercion
	for _, slot := range slots {
		if v, ok := values[slot.Name]; ok {
			sa.Entities[slot.Name] = activity.Entity{Properties: v}
		}
	}
	return sa, nil
}

func (d *SkillDialog) conversation(dc *Context) string {
	return dc.Turn.Activity.Conversation
}

func (d *SkillDialog) session(dc *Context, create bool) *skillSession {
	key := d.conversation(dc)
	d.mu.Lock()
	defer d.mu.Unlock()
	sess := d.sessions[key]
	if sess == nil && create {
		sess = &skillSession{transport: d.cfg.NewTransport()}
		d.sessions[key] = sess
	}
	return sess
}

func (d *SkillDialog) drop(dc *Context) {
	d.mu.Lock()
	delete(d.sessions, d.conversation(dc))
	d.mu.Unlock()
}

func (s *skillSession) takeTokenRequest() *activity.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.tokenRequest
	s.tokenRequest = nil
	return req
}
