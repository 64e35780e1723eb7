package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// Feed publishes in-app notifications to a per-user Redis channel.
// The WebSocket gateway subscribes to these channels to stream live
// updates; delivery through the feed is best-effort and the persisted
// notification row remains the source of truth.
type Feed struct {
	client *Client
	logger *zap.Logger
}

// NewFeed creates a live feed publisher.
func NewFeed(client *Client, logger *zap.Logger) *Feed {
	return &Feed{client: client, logger: logger}
}

// FeedChannel is the Redis channel name for one user's feed.
func FeedChannel(userID string) string {
	return "feed:user:" + userID
}

// PublishNotification pushes one notification onto the user's feed.
func (f *Feed) PublishNotification(ctx context.Context, n *notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	channel := FeedChannel(n.UserID.String())
	if err := f.client.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to feed: %w", err)
	}

	f.logger.Debug("notification published to live feed",
		zap.String("id", n.ID.String()),
		zap.String("channel", channel),
	)
	return nil
}
