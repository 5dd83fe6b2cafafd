// Package skillhost is the receiving side of a skill invocation: it
// authenticates inbound duplex connections, turns frames into bot turns,
// and converts the skill's outgoing activities back into frames on the same
// connection.
package skillhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"vassist/internal/activity"
	"vassist/internal/domain"
	"vassist/internal/metrics"
	"vassist/internal/rpc"
)

// CallbackError reports a failed attempt to push a reply back to the
// calling bot over the reverse channel. It distinguishes "my reply failed
// to send" from "the skill's own logic threw".
type CallbackError struct {
	Verb string
	Path string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback failed: verb %s, path %s: %v", e.Verb, e.Path, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// frameSender is the slice of rpc.Conn the adapter needs.
type frameSender interface {
	Send(ctx context.Context, req *rpc.Request) (*rpc.Response, error)
}

// Adapter delivers a skill's outgoing activities back to the calling bot as
// framed requests on the inbound connection. One adapter serves one turn:
// it stamps each outgoing activity's semantic-action state from the turn's
// incoming activity (done for a handoff, continue otherwise).
type Adapter struct {
	conn     frameSender
	incoming *activity.Activity
	logger   *slog.Logger
}

// NewAdapter binds an adapter to the connection and the turn's incoming
// activity.
func NewAdapter(conn frameSender, incoming *activity.Activity, logger *slog.Logger) *Adapter {
	return &Adapter{conn: conn, incoming: incoming, logger: logger}
}

// SendActivities sends each activity as its own frame, in order. A delay
// pseudo-activity sleeps inline before subsequent sends; trace activities
// are acknowledged without crossing the wire unless the conversation runs
// on the emulator channel.
func (ad *Adapter) SendActivities(ctx context.Context, activities []*activity.Activity) ([]domain.ResourceResponse, error) {
	responses := make([]domain.ResourceResponse, len(activities))

	for i, a := range activities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}

		if a.Type == activity.TypeDelay {
			if d := activity.DecodeDelay(a); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return responses, ctx.Err()
				}
			}
			responses[i] = domain.ResourceResponse{ID: a.ID}
			continue
		}

		ad.ensureSemanticAction(a)

		if a.Type == activity.TypeTrace && a.ChannelID != "emulator" {
			responses[i] = domain.ResourceResponse{ID: a.ID}
			continue
		}

		rr, err := ad.sendFrame(ctx, rpc.VerbPost, "/activities/"+a.ID, a)
		if err != nil {
			return responses, err
		}
		responses[i] = rr
	}

	return responses, nil
}

// UpdateActivity replaces a previously sent activity.
func (ad *Adapter) UpdateActivity(ctx context.Context, a *activity.Activity) (domain.ResourceResponse, error) {
	ad.ensureSemanticAction(a)
	return ad.sendFrame(ctx, rpc.VerbPut, "/activities/"+a.ID, a)
}

// DeleteActivity removes a previously sent activity.
func (ad *Adapter) DeleteActivity(ctx context.Context, activityID string) error {
	_, err := ad.sendFrame(ctx, rpc.VerbDelete, "/activities/"+activityID, nil)
	return err
}

func (ad *Adapter) sendFrame(ctx context.Context, verb, path string, a *activity.Activity) (domain.ResourceResponse, error) {
	var body any
	if a != nil {
		wire := a.Clone()
		wire.CallerID = "" // never sent over the wire
		body = wire
	}
	req, err := rpc.NewJSONRequest(verb, path, body)
	if err != nil {
		return domain.ResourceResponse{}, fmt.Errorf("encode outgoing activity: %w", err)
	}

	start := time.Now()
	resp, err := ad.conn.Send(ctx, req)
	metrics.SendLatency.ObserveSince(start)
	if err != nil {
		metrics.CallbackErrorsTotal.Inc()
		return domain.ResourceResponse{}, &CallbackError{Verb: verb, Path: path, Err: err}
	}
	if resp.Status != http.StatusOK {
		metrics.CallbackErrorsTotal.Inc()
		return domain.ResourceResponse{}, &CallbackError{Verb: verb, Path: path, Err: fmt.Errorf("status %d", resp.Status)}
	}

	var rr domain.ResourceResponse
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &rr); err != nil {
			ad.logger.Debug("unparseable resource response", "path", path, "err", err)
		}
	}
	if rr.ID == "" && a != nil {
		rr.ID = a.ID
	}
	return rr, nil
}

// ensureSemanticAction threads the incoming semantic action through to the
// outgoing activity and advances its state: done when the skill hands the
// conversation back, continue otherwise. Trace activities are exempt.
func (ad *Adapter) ensureSemanticAction(a *activity.Activity) {
	if a == nil || a.Type == activity.TypeTrace {
		return
	}
	in := ad.incoming.SemanticAction
	if in == nil || in.ID == "" {
		return
	}
	if a.SemanticAction == nil {
		a.SemanticAction = in.Clone()
	} else if a.SemanticAction.ID == "" {
		a.SemanticAction.ID = in.ID
	}
	if a.Type == activity.TypeHandoff || a.Type == activity.TypeEndOfConversation {
		a.SemanticAction.State = activity.StateDone
	} else {
		a.SemanticAction.State = activity.StateContinue
	}
}
