package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"vassist/internal/activity"
)

func busLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, busLogger())
	defer b.Close()

	a := activity.NewMessage("hello")
	a.ChannelID = "cli"
	b.Publish(a)

	select {
	case got := <-b.Subscribe():
		if got.Text != "hello" {
			t.Errorf("got %q", got.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound activity never arrived")
	}
}

func TestInMemoryBus_PreservesOrder(t *testing.T) {
	b := New(8, busLogger())
	defer b.Close()

	for _, text := range []string{"one", "two", "three"} {
		b.Publish(activity.NewMessage(text))
	}
	for _, want := range []string{"one", "two", "three"} {
		got := <-b.Subscribe()
		if got.Text != want {
			t.Errorf("got %q, want %q", got.Text, want)
		}
	}
}

func TestInMemoryBus_OutboundRouting(t *testing.T) {
	b := New(4, busLogger())
	defer b.Close()

	var cli, telegram []string
	b.OnOutbound("cli", func(a *activity.Activity) { cli = append(cli, a.Text) })
	b.OnOutbound("telegram", func(a *activity.Activity) { telegram = append(telegram, a.Text) })

	b.SendOutbound("cli", activity.NewMessage("for cli"))
	b.SendOutbound("telegram", activity.NewMessage("for telegram"))
	// unknown channels are logged and dropped, not a panic
	b.SendOutbound("smoke-signals", activity.NewMessage("lost"))

	if len(cli) != 1 || cli[0] != "for cli" {
		t.Errorf("cli = %v", cli)
	}
	if len(telegram) != 1 || telegram[0] != "for telegram" {
		t.Errorf("telegram = %v", telegram)
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(4, busLogger())
	b.Close()
	b.Close() // idempotent

	// must not panic on the closed channel
	b.Publish(activity.NewMessage("too late"))

	if _, ok := <-b.Subscribe(); ok {
		t.Error("closed bus still delivered an activity")
	}
}
