// Package bus moves activities between user channels and the host bot
// inside one process.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"vassist/internal/activity"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based activity bus for in-process routing.
type InMemoryBus struct {
	inbound  chan *activity.Activity
	handlers map[string]func(*activity.Activity)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan *activity.Activity, bufferSize),
		handlers: make(map[string]func(*activity.Activity)),
		logger:   logger,
	}
}

// Publish queues an inbound activity for the bot. Blocks up to 10 seconds
// if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(a *activity.Activity) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- a:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", a.ChannelID, "type", a.Type)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- a:
			b.logger.Info("activity delivered after wait", "channel", a.ChannelID)
		case <-timer.C:
			b.logger.Error("activity dropped: bus full for 10s",
				"channel", a.ChannelID,
				"type", a.Type,
			)
		}
	}
}

// Subscribe returns the inbound activity stream.
func (b *InMemoryBus) Subscribe() <-chan *activity.Activity {
	return b.inbound
}

// SendOutbound delivers an activity to the named channel's handler.
func (b *InMemoryBus) SendOutbound(channelName string, a *activity.Activity) {
	b.mu.RLock()
	handler, ok := b.handlers[channelName]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel",
			"channel", channelName,
		)
		return
	}

	handler(a)
}

// OnOutbound registers the named channel's delivery handler.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(*activity.Activity)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close shuts the bus down. Further publishes are dropped with a warning.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
