package skillhost

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"vassist/internal/activity"
	"vassist/internal/rpc"
)

func incomingActivity() *activity.Activity {
	a := activity.NewMessage("create an event")
	a.Conversation = "conv-1"
	a.From = activity.ChannelAccount{ID: "user"}
	a.Recipient = activity.ChannelAccount{ID: "calendar"}
	a.SemanticAction = &activity.SemanticAction{ID: "createEvent", State: activity.StateStart}
	a.CallerID = "host-app"
	return a
}

func decodeSent(t *testing.T, req *rpc.Request) *activity.Activity {
	t.Helper()
	var a activity.Activity
	if err := json.Unmarshal(req.Body, &a); err != nil {
		t.Fatalf("decode frame body: %v", err)
	}
	return &a
}

func TestSendActivities_AssignsIDsAndFrames(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	reply := incomingActivity().CreateReply()
	reply.Text = "done"
	rrs, err := ad.SendActivities(context.Background(), []*activity.Activity{reply})
	if err != nil {
		t.Fatalf("SendActivities: %v", err)
	}
	if rrs[0].ID == "" || reply.ID == "" {
		t.Error("no id assigned")
	}
	if len(conn.sent) != 1 {
		t.Fatalf("frames = %d", len(conn.sent))
	}
	req := conn.sent[0]
	if req.Verb != rpc.VerbPost || req.Path != "/activities/"+reply.ID {
		t.Errorf("frame = %s %s", req.Verb, req.Path)
	}
}

func TestSendActivities_NeverSendsCallerID(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	out := incomingActivity().CreateReply()
	out.CallerID = "host-app"
	if _, err := ad.SendActivities(context.Background(), []*activity.Activity{out}); err != nil {
		t.Fatal(err)
	}
	wire := decodeSent(t, conn.sent[0])
	if wire.CallerID != "" {
		t.Errorf("caller id crossed the wire: %q", wire.CallerID)
	}
	// the skill's own copy is untouched
	if out.CallerID != "host-app" {
		t.Errorf("local activity mutated: %q", out.CallerID)
	}
}

func TestSendActivities_SemanticActionState(t *testing.T) {
	cases := []struct {
		name string
		typ  activity.Type
		want activity.ActionState
	}{
		{"message continues", activity.TypeMessage, activity.StateContinue},
		{"handoff done", activity.TypeHandoff, activity.StateDone},
		{"endOfConversation done", activity.TypeEndOfConversation, activity.StateDone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{}
			ad := NewAdapter(conn, incomingActivity(), testLogger())

			out := incomingActivity().CreateReply()
			out.Type = tc.typ
			if _, err := ad.SendActivities(context.Background(), []*activity.Activity{out}); err != nil {
				t.Fatal(err)
			}
			wire := decodeSent(t, conn.sent[0])
			if wire.SemanticAction == nil {
				t.Fatal("semantic action not threaded through")
			}
			if wire.SemanticAction.ID != "createEvent" || wire.SemanticAction.State != tc.want {
				t.Errorf("semantic action = %+v", wire.SemanticAction)
			}
		})
	}
}

func TestSendActivities_PreservesOwnSemanticAction(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	out := incomingActivity().CreateReply()
	out.Type = activity.TypeHandoff
	out.SemanticAction = &activity.SemanticAction{
		Entities: map[string]activity.Entity{"title": {Properties: json.RawMessage(`"standup"`)}},
	}
	if _, err := ad.SendActivities(context.Background(), []*activity.Activity{out}); err != nil {
		t.Fatal(err)
	}
	wire := decodeSent(t, conn.sent[0])
	if wire.SemanticAction.ID != "createEvent" {
		t.Errorf("id not inherited: %+v", wire.SemanticAction)
	}
	if string(wire.SemanticAction.Entities["title"].Properties) != `"standup"` {
		t.Errorf("entities lost: %+v", wire.SemanticAction.Entities)
	}
	if wire.SemanticAction.State != activity.StateDone {
		t.Errorf("state = %q", wire.SemanticAction.State)
	}
}

func TestSendActivities_TraceSkippedOffEmulator(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	trace := activity.NewTrace("diagnostic")
	trace.ChannelID = "cli"
	rrs, err := ad.SendActivities(context.Background(), []*activity.Activity{trace})
	if err != nil {
		t.Fatal(err)
	}
	if len(conn.sent) != 0 {
		t.Errorf("trace crossed the wire off-emulator")
	}
	if rrs[0].ID == "" {
		t.Error("trace not acknowledged")
	}

	emu := activity.NewTrace("diagnostic")
	emu.ChannelID = "emulator"
	if _, err := ad.SendActivities(context.Background(), []*activity.Activity{emu}); err != nil {
		t.Fatal(err)
	}
	if len(conn.sent) != 1 {
		t.Error("emulator trace dropped")
	}
}

func TestSendActivities_DelaySleepsInline(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	msg := incomingActivity().CreateReply()
	msg.Text = "after the pause"
	start := time.Now()
	_, err := ad.SendActivities(context.Background(), []*activity.Activity{
		activity.NewDelay(30 * time.Millisecond),
		msg,
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("no pause observed: %v", elapsed)
	}
	// the delay itself never crosses the wire
	if len(conn.sent) != 1 {
		t.Errorf("frames = %d, want 1", len(conn.sent))
	}
}

func TestSendActivities_DelayHonorsCancellation(t *testing.T) {
	ad := NewAdapter(&fakeConn{}, incomingActivity(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ad.SendActivities(ctx, []*activity.Activity{activity.NewDelay(5 * time.Second)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestSendFrame_ErrorsBecomeCallbackErrors(t *testing.T) {
	failing := &fakeConn{err: errors.New("broken pipe")}
	ad := NewAdapter(failing, incomingActivity(), testLogger())
	_, err := ad.SendActivities(context.Background(), []*activity.Activity{incomingActivity().CreateReply()})
	var cbe *CallbackError
	if !errors.As(err, &cbe) {
		t.Fatalf("err = %T %v", err, err)
	}

	rejecting := &fakeConn{status: http.StatusConflict}
	ad = NewAdapter(rejecting, incomingActivity(), testLogger())
	_, err = ad.SendActivities(context.Background(), []*activity.Activity{incomingActivity().CreateReply()})
	if !errors.As(err, &cbe) {
		t.Fatalf("non-200 response: err = %T %v", err, err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	conn := &fakeConn{}
	ad := NewAdapter(conn, incomingActivity(), testLogger())

	upd := incomingActivity().CreateReply()
	upd.ID = "act-1"
	if _, err := ad.UpdateActivity(context.Background(), upd); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}
	if err := ad.DeleteActivity(context.Background(), "act-1"); err != nil {
		t.Fatalf("DeleteActivity: %v", err)
	}
	if conn.sent[0].Verb != rpc.VerbPut || conn.sent[1].Verb != rpc.VerbDelete {
		t.Errorf("verbs = %s %s", conn.sent[0].Verb, conn.sent[1].Verb)
	}
	if conn.sent[1].Body != nil {
		t.Errorf("delete carried a body: %s", conn.sent[1].Body)
	}
}
