package channel

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"vassist/internal/activity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeBus records published activities and exposes the registered outbound
// handlers so tests can push bot replies back into the channel.
type fakeBus struct {
	published []*activity.Activity
	handlers  map[string]func(*activity.Activity)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(*activity.Activity))}
}

func (b *fakeBus) Publish(a *activity.Activity)         { b.published = append(b.published, a) }
func (b *fakeBus) Subscribe() <-chan *activity.Activity { return nil }

func (b *fakeBus) SendOutbound(name string, a *activity.Activity) {
	if h, ok := b.handlers[name]; ok {
		h(a)
	}
}
func (b *fakeBus) OnOutbound(name string, handler func(*activity.Activity)) {
	b.handlers[name] = handler
}
func (b *fakeBus) Close() {}

func TestCLI_PublishesInputAsActivities(t *testing.T) {
	bus := newFakeBus()
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("how long until christmas\n/quit\n"),
		Out:    &out,
	})

	if err := cli.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(bus.published) != 2 {
		t.Fatalf("published %d activities", len(bus.published))
	}
	first := bus.published[0]
	if first.Type != activity.TypeEvent || first.Name != activity.StartConversationEventName {
		t.Errorf("first activity = %s %q", first.Type, first.Name)
	}
	second := bus.published[1]
	if second.Type != activity.TypeMessage || second.Text != "how long until christmas" {
		t.Errorf("second activity = %s %q", second.Type, second.Text)
	}
	if second.ChannelID != "cli" || second.Conversation == "" {
		t.Errorf("addressing = %q %q", second.ChannelID, second.Conversation)
	}
}

func TestCLI_RendersOutboundMessages(t *testing.T) {
	bus := newFakeBus()
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("/quit\n"), Out: &out})

	if err := cli.Start(context.Background(), bus); err != nil {
		t.Fatal(err)
	}

	bus.SendOutbound("cli", activity.NewMessage("Hi there!"))
	if !strings.Contains(out.String(), "Hi there!") {
		t.Error("reply not rendered")
	}

	// non-message activities are not rendered
	before := out.Len()
	bus.SendOutbound("cli", activity.NewEvent("tokens/request"))
	if out.Len() != before {
		t.Error("event activity rendered to terminal")
	}
}

func TestCLI_SkipsBlankLines(t *testing.T) {
	bus := newFakeBus()
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("\n   \nhello\n"),
		Out:    &bytes.Buffer{},
	})

	if err := cli.Start(context.Background(), bus); err != nil {
		t.Fatal(err)
	}

	var messages int
	for _, a := range bus.published {
		if a.Type == activity.TypeMessage {
			messages++
		}
	}
	if messages != 1 {
		t.Errorf("published %d messages", messages)
	}
}
