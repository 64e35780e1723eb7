// Package event provides the in-process publish/subscribe bus that
// decouples producing subsystems (maintenance, ML, sensors, chatbot)
// from notification creation, plus the composable handler pipeline.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is a closed domain event tag. Subscription matches by exact tag.
type Type string

const (
	// Producer subsystem events.
	TypeMaintenanceDue       Type = "maintenance.due"
	TypeMaintenanceOverdue   Type = "maintenance.overdue"
	TypeMaintenanceCompleted Type = "maintenance.completed"
	TypeFaultPredicted       Type = "ml.fault_predicted"
	TypeSensorAnomaly        Type = "sensor.anomaly"
	TypeChatbotFeedback      Type = "chatbot.feedback"

	// Internal operational signal emitted when a delivery exhausts
	// its attempts.
	TypeDeliveryFailed Type = "notification.delivery_failed"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeMaintenanceDue, TypeMaintenanceOverdue, TypeMaintenanceCompleted,
		TypeFaultPredicted, TypeSensorAnomaly, TypeChatbotFeedback,
		TypeDeliveryFailed:
		return true
	}
	return false
}

// Payload keys common across events.
const (
	KeyUserID     = "user_id"
	KeyEntityType = "entity_type"
	KeyEntityID   = "entity_id"
	KeyDetail     = "detail"
)

// Event is an immutable fact published by a producing subsystem. The
// bus never persists it; events unconsumed at process exit are lost.
type Event struct {
	Type          Type
	Payload       map[string]string
	OccurredAt    time.Time
	CorrelationID uuid.UUID
}

// New builds an event with a fresh correlation id and the current
// timestamp. The payload map is copied so the event stays immutable
// from the producer's point of view.
func New(t Type, payload map[string]string) Event {
	p := make(map[string]string, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return Event{
		Type:          t,
		Payload:       p,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New(),
	}
}

// UserID extracts and parses the user_id payload field.
func (e Event) UserID() (uuid.UUID, bool) {
	raw, ok := e.Payload[KeyUserID]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
