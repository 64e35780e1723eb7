// Package notify holds the core notification domain model: the closed
// category/channel/state enums, the notification entity with its retry
// state machine, per-user preferences, and the gating policy.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the delivery attempt cap. Once a notification has
// failed this many times it is terminally failed and never retried.
const MaxAttempts = 3

// Category classifies what kind of alert a notification carries.
type Category string

const (
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryAlert   Category = "alert"
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{CategoryInfo, CategoryWarning, CategoryAlert, CategorySuccess, CategoryError}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryInfo, CategoryWarning, CategoryAlert, CategorySuccess, CategoryError:
		return true
	}
	return false
}

// ParseCategory validates an externally supplied category string.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Value: s, Reason: "unknown category"}
	}
	return c, nil
}

// Channel is a delivery mechanism.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// Channels lists every valid channel.
func Channels() []Channel {
	return []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS}
}

// Valid reports whether ch is a member of the closed channel set.
func (ch Channel) Valid() bool {
	switch ch {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

// ParseChannel validates an externally supplied channel string.
func ParseChannel(s string) (Channel, error) {
	ch := Channel(s)
	if !ch.Valid() {
		return "", &ValidationError{Field: "channel", Value: s, Reason: "unknown channel"}
	}
	return ch, nil
}

// State is a notification's delivery lifecycle state.
//
// State transitions:
//
//	pending -> sent:    send succeeded
//	pending -> pending: send failed, attempts remain
//	pending -> failed:  send failed, attempts exhausted (terminal)
//	sent    -> read:    user marked read (read is terminal)
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateRead    State = "read"
	StateFailed  State = "failed"
)

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateSent, StateRead, StateFailed:
		return true
	}
	return false
}

// ParseState validates a state string read back from persistence.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", &ValidationError{Field: "state", Value: v, Reason: "unknown state"}
	}
	return s, nil
}

// Terminal reports whether no further automatic transition can occur.
func (s State) Terminal() bool {
	return s == StateRead || s == StateFailed
}

// Ref points at the domain entity a notification is about.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ValidationError reports malformed input rejected before persistence.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ErrInvalidTransition is returned when a state change not in the
// transition table is requested. The entity is left unchanged.
var ErrInvalidTransition = errors.New("invalid notification state transition")

// Notification is one (user, channel) delivery record with its own
// retry lifecycle. Rows are created by the factory after a gating
// allow, mutated by the dispatcher and by explicit mark-read, and
// never deleted by the engine.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Category      Category   `json:"category"`
	Channel       Channel    `json:"channel"`
	State         State      `json:"state"`
	Ref           *Ref       `json:"ref,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

// New builds a pending notification, validating every closed enum and
// required text field. Malformed input is rejected synchronously.
func New(userID uuid.UUID, title, message string, category Category, channel Channel, ref *Ref) (*Notification, error) {
	if userID == uuid.Nil {
		return nil, &ValidationError{Field: "user_id", Value: "", Reason: "required"}
	}
	if title == "" {
		return nil, &ValidationError{Field: "title", Value: title, Reason: "required"}
	}
	if message == "" {
		return nil, &ValidationError{Field: "message", Value: message, Reason: "required"}
	}
	if !category.Valid() {
		return nil, &ValidationError{Field: "category", Value: string(category), Reason: "unknown category"}
	}
	if !channel.Valid() {
		return nil, &ValidationError{Field: "channel", Value: string(channel), Reason: "unknown channel"}
	}

	now := time.Now().UTC()
	return &Notification{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         title,
		Message:       message,
		Category:      category,
		Channel:       channel,
		State:         StatePending,
		Ref:           ref,
		Attempts:      0,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// MarkSent transitions pending -> sent after a successful delivery
// attempt. The attempt is counted.
func (n *Notification) MarkSent(now time.Time) error {
	if n.State != StatePending {
		return fmt.Errorf("%w: %s -> sent", ErrInvalidTransition, n.State)
	}
	n.State = StateSent
	n.Attempts++
	ts := now.UTC()
	n.SentAt = &ts
	n.LastError = nil
	return nil
}

// RecordFailure counts a failed delivery attempt. While attempts
// remain the notification stays pending and becomes re-eligible after
// RetryDelay; once the cap is reached it is terminally failed.
func (n *Notification) RecordFailure(sendErr error, now time.Time) error {
	if n.State != StatePending {
		return fmt.Errorf("%w: %s -> pending/failed", ErrInvalidTransition, n.State)
	}
	n.Attempts++
	msg := sendErr.Error()
	n.LastError = &msg
	if n.Attempts >= MaxAttempts {
		n.State = StateFailed
		return nil
	}
	n.NextAttemptAt = now.UTC().Add(RetryDelay(n.Attempts))
	return nil
}

// MarkRead transitions sent -> read. Reading an already-read
// notification is a no-op; it reports false for any other state so
// callers can surface a not-found style outcome without mutating.
func (n *Notification) MarkRead(now time.Time) bool {
	switch n.State {
	case StateRead:
		return true
	case StateSent:
		n.State = StateRead
		ts := now.UTC()
		n.ReadAt = &ts
		return true
	default:
		return false
	}
}

// RetryDelay returns how long a notification waits before its next
// delivery attempt: linear attempts*5m, capped at 15m.
func RetryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 5 * time.Minute
	if d > 15*time.Minute {
		d = 15 * time.Minute
	}
	return d
}
