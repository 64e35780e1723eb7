// Package sns publishes operational alerts about terminally failed
// deliveries to an SNS topic for the on-call feed.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
)

// snsAPI is the slice of the SNS client the publisher uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AlertPublisher forwards delivery-failure events to an SNS topic.
type AlertPublisher struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

// Alert is the JSON body published to the ops topic.
type Alert struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id,omitempty"`
	Channel        string `json:"channel"`
	Detail         string `json:"detail,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

// NewAlertPublisher creates an alert publisher for the given topic.
func NewAlertPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*AlertPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &AlertPublisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
		logger:   logger,
	}, nil
}

// HandleDeliveryFailed is an event handler for delivery-failure
// events. It never returns delivery errors to the bus; a lost alert is
// logged, not retried.
func (p *AlertPublisher) HandleDeliveryFailed(ctx context.Context, ev event.Event) {
	alert := Alert{
		NotificationID: ev.Payload["notification_id"],
		UserID:         ev.Payload[event.KeyUserID],
		Channel:        ev.Payload["channel"],
		Detail:         ev.Payload[event.KeyDetail],
		OccurredAt:     ev.OccurredAt.Format(time.RFC3339),
	}

	if _, err := p.publish(ctx, alert); err != nil {
		p.logger.Error("failed to publish delivery alert",
			zap.Error(err),
			zap.String("notification_id", alert.NotificationID),
		)
	}
}

func (p *AlertPublisher) publish(ctx context.Context, alert Alert) (string, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Channel),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
