// Package sqs bridges remote producer subsystems into the in-process
// event bus. Producers that do not run inside this process (the ML
// fault predictor, telemetry pipeline) drop event envelopes onto an
// SQS queue; the ingest loop long-polls the queue and republishes
// them locally.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/metrics"
)

// Config holds SQS ingest configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Envelope is the wire format remote producers put on the queue.
type Envelope struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload"`
}

// sqsAPI is the slice of the SQS client the ingest loop uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher is the local bus side of the bridge.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event)
}

// Deduper filters redelivered queue messages.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
}

// Ingest long-polls one SQS queue and republishes decoded envelopes on
// the event bus.
type Ingest struct {
	client   sqsAPI
	queueURL string
	bus      Publisher
	dedup    Deduper
	logger   *zap.Logger
}

// NewIngest creates an ingest bridge for the given queue.
func NewIngest(ctx context.Context, cfg Config, bus Publisher, dedup Deduper, logger *zap.Logger) (*Ingest, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	logger.Info("sqs ingest initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Ingest{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		bus:      bus,
		dedup:    dedup,
		logger:   logger,
	}, nil
}

// Run long-polls the queue until ctx is cancelled.
func (i *Ingest) Run(ctx context.Context) {
	i.logger.Info("sqs ingest started")
	for {
		if err := i.poll(ctx); err != nil {
			if ctx.Err() != nil {
				i.logger.Info("sqs ingest stopped")
				return
			}
			i.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				i.logger.Info("sqs ingest stopped")
				return
			}
		}
		if ctx.Err() != nil {
			i.logger.Info("sqs ingest stopped")
			return
		}
	}
}

func (i *Ingest) poll(ctx context.Context) error {
	result, err := i.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(i.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return err
	}

	for _, msg := range result.Messages {
		i.handle(ctx, msg)
	}

	return nil
}

// handle processes one queue message. Malformed envelopes are deleted
// so they do not poison the queue; only infrastructure errors leave
// the message for redelivery.
func (i *Ingest) handle(ctx context.Context, msg types.Message) {
	msgID := aws.ToString(msg.MessageId)

	evt, err := DecodeEnvelope([]byte(aws.ToString(msg.Body)))
	if err != nil {
		i.logger.Warn("dropping malformed ingest message",
			zap.Error(err),
			zap.String("message_id", msgID),
		)
		i.delete(ctx, msg)
		return
	}

	seen, err := i.dedup.Seen(ctx, msgID)
	if err != nil {
		// Leave the message for redelivery; better a rare duplicate
		// than a lost event.
		i.logger.Error("dedup check failed", zap.Error(err), zap.String("message_id", msgID))
		return
	}
	if seen {
		i.logger.Debug("dropping redelivered ingest message",
			zap.String("message_id", msgID),
		)
		i.delete(ctx, msg)
		return
	}

	i.bus.Publish(ctx, evt)
	metrics.RecordEventPublished(string(evt.Type))
	i.delete(ctx, msg)
}

func (i *Ingest) delete(ctx context.Context, msg types.Message) {
	_, err := i.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(i.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		i.logger.Error("sqs delete failed",
			zap.Error(err),
			zap.String("message_id", aws.ToString(msg.MessageId)),
		)
	}
}

// DecodeEnvelope parses and validates one queue message body into a
// bus event.
func DecodeEnvelope(body []byte) (event.Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	t := event.Type(env.Type)
	if !t.Valid() {
		return event.Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if t == event.TypeDeliveryFailed {
		return event.Event{}, fmt.Errorf("event type %q is internal", env.Type)
	}

	return event.New(t, env.Payload), nil
}
