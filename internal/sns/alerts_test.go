package sns

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
)

type mockSNS struct {
	inputs  []*awssns.PublishInput
	failErr error
}

func (m *mockSNS) Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	m.inputs = append(m.inputs, params)
	return &awssns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestHandleDeliveryFailedPublishesAlert(t *testing.T) {
	mock := &mockSNS{}
	p := &AlertPublisher{
		client:   mock,
		topicARN: "arn:aws:sns:us-east-1:000000000000:delivery-alerts",
		logger:   zap.NewNop(),
	}

	userID := uuid.New()
	ev := event.New(event.TypeDeliveryFailed, map[string]string{
		"notification_id": "b2f7d6e0-0000-0000-0000-000000000001",
		event.KeyUserID:   userID.String(),
		"channel":         "email",
		event.KeyDetail:   "smtp 550",
	})

	p.HandleDeliveryFailed(context.Background(), ev)

	if len(mock.inputs) != 1 {
		t.Fatalf("published %d messages, want 1", len(mock.inputs))
	}
	input := mock.inputs[0]
	if got := aws.ToString(input.TopicArn); got != p.topicARN {
		t.Errorf("topic = %s, want %s", got, p.topicARN)
	}

	var alert Alert
	if err := json.Unmarshal([]byte(aws.ToString(input.Message)), &alert); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if alert.NotificationID != "b2f7d6e0-0000-0000-0000-000000000001" {
		t.Errorf("notification_id = %s", alert.NotificationID)
	}
	if alert.Channel != "email" {
		t.Errorf("channel = %s, want email", alert.Channel)
	}
	if alert.Detail != "smtp 550" {
		t.Errorf("detail = %s", alert.Detail)
	}

	attr, ok := input.MessageAttributes["channel"]
	if !ok {
		t.Fatal("missing channel message attribute")
	}
	if aws.ToString(attr.StringValue) != "email" {
		t.Errorf("channel attribute = %s", aws.ToString(attr.StringValue))
	}
}

func TestHandleDeliveryFailedSwallowsPublishError(t *testing.T) {
	mock := &mockSNS{failErr: context.DeadlineExceeded}
	p := &AlertPublisher{
		client:   mock,
		topicARN: "arn:aws:sns:us-east-1:000000000000:delivery-alerts",
		logger:   zap.NewNop(),
	}

	ev := event.New(event.TypeDeliveryFailed, map[string]string{
		"notification_id": uuid.NewString(),
		"channel":         "sms",
	})

	// Must not panic and must not propagate; alerts are best effort.
	p.HandleDeliveryFailed(context.Background(), ev)

	if len(mock.inputs) != 0 {
		t.Fatalf("expected no recorded publishes, got %d", len(mock.inputs))
	}
}
