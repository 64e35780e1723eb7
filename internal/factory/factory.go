// Package factory turns domain events into pending notifications. It
// is the bus handler that resolves recipients, applies the gating
// policy per channel, and persists whatever the gate allows.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/metrics"
	"github.com/ridelogic/motonotify/internal/notify"
)

// NotificationRepository is the persistence contract the factory needs.
type NotificationRepository interface {
	CreateMany(ctx context.Context, notifications []*notify.Notification) error
}

// PreferenceRepository loads per-user configuration, creating the
// documented defaults on first access.
type PreferenceRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*notify.Preference, error)
}

// Intent is one logical alert for one user, before channel fan-out.
type Intent struct {
	UserID   uuid.UUID
	Title    string
	Message  string
	Category notify.Category
	Ref      *notify.Ref
}

// Factory maps events to delivery intents and creates notifications.
// Creation and delivery are decoupled: the factory never invokes a
// sender.
type Factory struct {
	notifications NotificationRepository
	preferences   PreferenceRepository
	logger        *zap.Logger
	now           func() time.Time
}

// New creates a factory.
func New(notifications NotificationRepository, preferences PreferenceRepository, logger *zap.Logger) *Factory {
	return &Factory{
		notifications: notifications,
		preferences:   preferences,
		logger:        logger,
		now:           time.Now,
	}
}

// ProducerEventTypes lists the event types the factory consumes.
func ProducerEventTypes() []event.Type {
	return []event.Type{
		event.TypeMaintenanceDue,
		event.TypeMaintenanceOverdue,
		event.TypeMaintenanceCompleted,
		event.TypeFaultPredicted,
		event.TypeSensorAnomaly,
		event.TypeChatbotFeedback,
	}
}

// SubscribeAll registers the factory's handler, wrapped in stages, for
// every producer event type. The returned tokens allow teardown.
func (f *Factory) SubscribeAll(bus *event.Bus, stages ...event.Stage) []event.Subscription {
	handler := event.Chain(f.Handle, stages...)
	subs := make([]event.Subscription, 0, len(ProducerEventTypes()))
	for _, t := range ProducerEventTypes() {
		subs = append(subs, bus.Subscribe(t, handler))
	}
	return subs
}

// Handle consumes one event. Failures are logged and contained; the
// bus contract forbids a handler from affecting its siblings.
func (f *Factory) Handle(ctx context.Context, evt event.Event) {
	intents, err := resolveIntents(evt)
	if err != nil {
		f.logger.Warn("event produced no intents",
			zap.String("event_type", string(evt.Type)),
			zap.String("correlation_id", evt.CorrelationID.String()),
			zap.Error(err),
		)
		return
	}

	for _, intent := range intents {
		if err := f.createForIntent(ctx, intent, evt); err != nil {
			f.logger.Error("failed to create notifications for intent",
				zap.String("event_type", string(evt.Type)),
				zap.String("user_id", intent.UserID.String()),
				zap.Error(err),
			)
		}
	}
}

// createForIntent fans one intent out per channel present in the
// user's preference. Gating runs per channel; a denial creates no row.
func (f *Factory) createForIntent(ctx context.Context, intent Intent, evt event.Event) error {
	pref, err := f.preferences.GetOrCreate(ctx, intent.UserID)
	if err != nil {
		return fmt.Errorf("load preference: %w", err)
	}

	now := f.now()
	var batch []*notify.Notification
	for _, channel := range notify.Channels() {
		if _, present := pref.Channels[channel]; !present {
			continue
		}
		decision := notify.Gate(pref, channel, intent.Category, now)
		if !decision.Allowed {
			metrics.RecordGatingDenied(string(decision.Reason))
			f.logger.Debug("notification gated",
				zap.String("user_id", intent.UserID.String()),
				zap.String("channel", string(channel)),
				zap.String("reason", string(decision.Reason)),
			)
			continue
		}

		n, err := notify.New(intent.UserID, intent.Title, intent.Message, intent.Category, channel, intent.Ref)
		if err != nil {
			return fmt.Errorf("build notification: %w", err)
		}
		batch = append(batch, n)
	}

	if len(batch) == 0 {
		return nil
	}
	if err := f.notifications.CreateMany(ctx, batch); err != nil {
		return fmt.Errorf("persist notifications: %w", err)
	}
	for _, n := range batch {
		metrics.RecordNotificationCreated(string(n.Channel), string(n.Category))
	}
	f.logger.Info("notifications created",
		zap.String("user_id", intent.UserID.String()),
		zap.String("event_type", string(evt.Type)),
		zap.String("correlation_id", evt.CorrelationID.String()),
		zap.Int("count", len(batch)),
	)
	return nil
}

// resolveIntents maps one event to zero or more delivery intents.
func resolveIntents(evt event.Event) ([]Intent, error) {
	userID, ok := evt.UserID()
	if !ok {
		return nil, fmt.Errorf("event %s has no resolvable user_id", evt.Type)
	}

	detail := evt.Payload[event.KeyDetail]
	ref := refFromPayload(evt.Payload)

	var title string
	var message string
	var category notify.Category

	switch evt.Type {
	case event.TypeMaintenanceDue:
		title = "Maintenance due"
		message = withDetail("A maintenance task on your motorcycle is coming up", detail)
		category = notify.CategoryWarning
	case event.TypeMaintenanceOverdue:
		title = "Maintenance overdue"
		message = withDetail("A maintenance task on your motorcycle is overdue", detail)
		category = notify.CategoryAlert
	case event.TypeMaintenanceCompleted:
		title = "Maintenance completed"
		message = withDetail("A maintenance task was marked completed", detail)
		category = notify.CategorySuccess
	case event.TypeFaultPredicted:
		title = "Possible fault detected"
		message = withDetail("Our model predicts a fault developing on your motorcycle", detail)
		category = notify.CategoryAlert
	case event.TypeSensorAnomaly:
		title = "Sensor anomaly"
		message = withDetail("A sensor on your motorcycle reported an abnormal reading", detail)
		category = notify.CategoryWarning
	case event.TypeChatbotFeedback:
		title = "Assistant update"
		message = withDetail("The assistant has new information for you", detail)
		category = notify.CategoryInfo
	default:
		return nil, fmt.Errorf("no intent mapping for event type %s", evt.Type)
	}

	return []Intent{{
		UserID:   userID,
		Title:    title,
		Message:  message,
		Category: category,
		Ref:      ref,
	}}, nil
}

func refFromPayload(payload map[string]string) *notify.Ref {
	entityType := payload[event.KeyEntityType]
	entityID := payload[event.KeyEntityID]
	if entityType == "" || entityID == "" {
		return nil
	}
	return &notify.Ref{Type: entityType, ID: entityID}
}

func withDetail(base, detail string) string {
	if detail == "" {
		return base + "."
	}
	return base + ": " + detail
}
