package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// PushSender delivers push notifications by POSTing to an FCM-style
// push gateway.
type PushSender struct {
	client   *http.Client
	contacts ContactResolver
	url      string
	logger   *zap.Logger
}

type PushConfig struct {
	GatewayURL string
	Timeout    time.Duration
}

// pushRequest is the gateway wire format.
type pushRequest struct {
	Token          string `json:"token"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Category       string `json:"category"`
	NotificationID string `json:"notification_id"`
}

// NewPushSender creates a push sender.
func NewPushSender(cfg PushConfig, contacts ContactResolver, logger *zap.Logger) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PushSender{
		client:   &http.Client{Timeout: timeout},
		contacts: contacts,
		url:      cfg.GatewayURL,
		logger:   logger,
	}
}

// Send delivers one push notification.
func (s *PushSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", n.Channel)
	}

	token, err := s.contacts.Contact(ctx, n.UserID, notify.ChannelPush)
	if err != nil {
		return fmt.Errorf("resolve push token: %w", err)
	}

	body, err := json.Marshal(pushRequest{
		Token:          token,
		Title:          n.Title,
		Body:           n.Message,
		Category:       string(n.Category),
		NotificationID: n.ID.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", n.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("push notification delivered",
		zap.String("id", n.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *PushSender) SupportsChannel(channel notify.Channel) bool {
	return channel == notify.ChannelPush
}
