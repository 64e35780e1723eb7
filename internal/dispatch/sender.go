// Package dispatch delivers pending notifications through channel
// senders and drives the retry state machine to a terminal outcome.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// Sender is the unified interface for all delivery channels. Senders
// must tolerate duplicate sends for the same notification id; the
// engine guards against them but cannot rule them out across a
// crash-restart boundary.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification) error
	SupportsChannel(channel notify.Channel) bool
}

// ContactResolver resolves a user's delivery address for a channel
// (email address, phone number, push token). Backed by the preference
// store's extra configuration.
type ContactResolver interface {
	Contact(ctx context.Context, userID uuid.UUID, channel notify.Channel) (string, error)
}

// MultiSender routes notifications to the first sender supporting the
// notification's channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given channel senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the notification to the appropriate sender.
func (m *MultiSender) Send(ctx context.Context, n *notify.Notification) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(n.Channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", string(n.Channel)),
				zap.String("notification_id", n.ID.String()),
			)
			return sender.Send(ctx, n)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", n.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel notify.Channel) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs notifications instead of delivering them. Used in
// development and as a stand-in for channels without credentials.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n *notify.Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", n.ID.String()),
		zap.String("channel", string(n.Channel)),
		zap.String("user_id", n.UserID.String()),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel notify.Channel) bool {
	return channel.Valid()
}
