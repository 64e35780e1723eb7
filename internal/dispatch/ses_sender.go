package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// SESSender delivers email notifications via AWS SES.
type SESSender struct {
	client   *ses.Client
	contacts ContactResolver
	from     string
	logger   *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, contacts ContactResolver, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{
		client:   ses.NewFromConfig(awsCfg),
		contacts: contacts,
		from:     cfg.FromEmail,
		logger:   logger,
	}, nil
}

// Send delivers one email notification.
func (s *SESSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", n.Channel)
	}

	to, err := s.contacts.Contact(ctx, n.UserID, notify.ChannelEmail)
	if err != nil {
		return fmt.Errorf("resolve email address: %w", err)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", n.ID.String()),
		zap.String("to", to),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SESSender) SupportsChannel(channel notify.Channel) bool {
	return channel == notify.ChannelEmail
}
