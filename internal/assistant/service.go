package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vassist/internal/activity"
	"vassist/internal/domain"
)

// Service pumps activities from the message bus through the bot. Turns are
// processed one at a time; dialog state for a conversation is only ever
// touched by the turn that owns it.
type Service struct {
	bus    domain.MessageBus
	bot    domain.Bot
	logger *slog.Logger
}

// NewService wires the bot to the bus.
func NewService(b domain.MessageBus, bot domain.Bot, logger *slog.Logger) *Service {
	return &Service{bus: b, bot: bot, logger: logger}
}

// Run consumes the bus until ctx is cancelled or the bus closes.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-s.bus.Subscribe():
			if !ok {
				return nil
			}
			s.handle(ctx, a)
		}
	}
}

func (s *Service) handle(ctx context.Context, a *activity.Activity) {
	turn := domain.NewTurnContext(&busSender{bus: s.bus, channel: a.ChannelID, logger: s.logger}, a)
	if err := s.bot.OnTurn(ctx, turn); err != nil {
		s.logger.Error("turn failed", "channel", a.ChannelID, "conversation", a.Conversation, "err", err)
	}
}

// busSender delivers a turn's replies to the originating channel.
type busSender struct {
	bus     domain.MessageBus
	channel string
	logger  *slog.Logger
}

func (s *busSender) SendActivities(ctx context.Context, activities []*activity.Activity) ([]domain.ResourceResponse, error) {
	rr := make([]domain.ResourceResponse, len(activities))
	for i, a := range activities {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		rr[i] = domain.ResourceResponse{ID: a.ID}

		switch a.Type {
		case activity.TypeDelay:
			if d := activity.DecodeDelay(a); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return rr, ctx.Err()
				}
			}
			continue
		case activity.TypeTrace:
			s.logger.Debug("trace", "channel", s.channel, "text", a.Text)
			continue
		}

		s.bus.SendOutbound(s.channel, a)
	}
	return rr, nil
}

// UpdateActivity resends the activity; user channels here cannot edit
// delivered messages in place.
func (s *busSender) UpdateActivity(ctx context.Context, a *activity.Activity) (domain.ResourceResponse, error) {
	s.bus.SendOutbound(s.channel, a)
	return domain.ResourceResponse{ID: a.ID}, nil
}

func (s *busSender) DeleteActivity(ctx context.Context, activityID string) error {
	s.logger.Debug("delete not supported on channel, ignoring", "channel", s.channel, "activity", activityID)
	return nil
}
