package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// SNSSender delivers SMS notifications via AWS SNS.
type SNSSender struct {
	client   *sns.Client
	contacts ContactResolver
	logger   *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates an SNS sender for the SMS channel.
func NewSNSSender(ctx context.Context, cfg SNSConfig, contacts ContactResolver, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client:   sns.NewFromConfig(awsCfg),
		contacts: contacts,
		logger:   logger,
	}, nil
}

// Send delivers one SMS notification.
func (s *SNSSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", n.Channel)
	}

	phone, err := s.contacts.Contact(ctx, n.UserID, notify.ChannelSMS)
	if err != nil {
		return fmt.Errorf("resolve phone number: %w", err)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(n.Title + ": " + n.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("id", n.ID.String()),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel notify.Channel) bool {
	return channel == notify.ChannelSMS
}
