package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// FeedPublisher pushes a notification onto the user's live in-app
// feed (the Redis channel the WebSocket layer subscribes to).
type FeedPublisher interface {
	PublishNotification(ctx context.Context, n *notify.Notification) error
}

// InAppSender marks in-app notifications delivered. The persisted row
// is the delivery itself; the live feed publish is best-effort on top
// so an unreachable feed never fails the attempt.
type InAppSender struct {
	feed   FeedPublisher // nil when the live feed is disabled
	logger *zap.Logger
}

func NewInAppSender(feed FeedPublisher, logger *zap.Logger) *InAppSender {
	return &InAppSender{feed: feed, logger: logger}
}

func (s *InAppSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelInApp {
		return fmt.Errorf("in-app sender only supports in_app, got: %s", n.Channel)
	}

	if s.feed != nil {
		if err := s.feed.PublishNotification(ctx, n); err != nil {
			s.logger.Warn("live feed publish failed",
				zap.String("id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *InAppSender) SupportsChannel(channel notify.Channel) bool {
	return channel == notify.ChannelInApp
}
