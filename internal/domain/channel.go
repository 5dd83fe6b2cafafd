package domain

import (
	"context"

	"vassist/internal/activity"
)

// Channel is the interface for user-facing I/O (Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// MessageBus routes activities between channels and the host bot.
type MessageBus interface {
	Publish(a *activity.Activity)
	Subscribe() <-chan *activity.Activity
	SendOutbound(channelName string, a *activity.Activity)
	OnOutbound(channelName string, handler func(*activity.Activity))
	Close()
}
