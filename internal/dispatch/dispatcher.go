package dispatch

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

// Repository is the persistence contract the dispatcher needs.
// ClaimForDelivery and FinishAttempt are conditional updates guarded
// by the attempts value the caller read, so two concurrent workers
// cannot double-send one row.
type Repository interface {
	GetPendingForDelivery(ctx context.Context, limit int) ([]*notify.Notification, error)
	ClaimForDelivery(ctx context.Context, id uuid.UUID, expectedAttempts int, lease time.Duration) (bool, error)
	FinishAttempt(ctx context.Context, n *notify.Notification, expectedAttempts int) error
}

// Publisher emits operational signals back onto the event bus.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event)
}

// Dispatcher delivers one pending notification at a time: claim,
// send with a per-attempt timeout, apply the state transition.
type Dispatcher struct {
	repo        Repository
	sender      Sender
	bus         Publisher
	sendTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

type Config struct {
	SendTimeout time.Duration
}

// New creates a dispatcher. bus may be nil when no operational
// signals are wanted (tests).
func New(repo Repository, sender Sender, bus Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		repo:        repo,
		sender:      sender,
		bus:         bus,
		sendTimeout: cfg.SendTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Dispatch runs one delivery attempt for n. A lost claim race is not
// an error: the winning worker owns the attempt. Delivery failures
// are contained here; they surface only through notification state
// and the delivery-failed signal.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notify.Notification) error {
	if n.State != notify.StatePending {
		return fmt.Errorf("%w: dispatch on %s", notify.ErrInvalidTransition, n.State)
	}
	expected := n.Attempts

	claimed, err := d.repo.ClaimForDelivery(ctx, n.ID, expected, d.sendTimeout+30*time.Second)
	if err != nil {
		return fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		d.logger.Debug("lost delivery claim race",
			zap.String("id", n.ID.String()),
			zap.Int("attempts", expected),
		)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	sendErr := d.sender.Send(sendCtx, n)
	cancel()

	now := d.now()
	if sendErr == nil {
		if err := n.MarkSent(now); err != nil {
			return err
		}
		metrics.RecordDelivery(string(n.Channel), "sent")
		metrics.RecordDeliveryLatency(string(n.Channel), now.Sub(n.CreatedAt))
		d.logger.Info("notification sent",
			zap.String("id", n.ID.String()),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempts", n.Attempts),
		)
	} else {
		if err := n.RecordFailure(sendErr, now); err != nil {
			return err
		}
		if n.State == notify.StateFailed {
			metrics.RecordDelivery(string(n.Channel), "failed")
			d.logger.Error("notification terminally failed",
				zap.String("id", n.ID.String()),
				zap.String("channel", string(n.Channel)),
				zap.Int("attempts", n.Attempts),
				zap.Error(sendErr),
			)
			d.signalFailure(ctx, n, sendErr)
		} else {
			metrics.RecordDelivery(string(n.Channel), "retry")
			d.logger.Warn("notification send failed, will retry",
				zap.String("id", n.ID.String()),
				zap.String("channel", string(n.Channel)),
				zap.Int("attempts", n.Attempts),
				zap.Time("next_attempt_at", n.NextAttemptAt),
				zap.Error(sendErr),
			)
		}
	}

	if err := d.repo.FinishAttempt(ctx, n, expected); err != nil {
		return fmt.Errorf("persist attempt outcome: %w", err)
	}
	return nil
}

// signalFailure emits the delivery-failed operational signal.
func (d *Dispatcher) signalFailure(ctx context.Context, n *notify.Notification, sendErr error) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, event.New(event.TypeDeliveryFailed, map[string]string{
		event.KeyUserID:   n.UserID.String(),
		"notification_id": n.ID.String(),
		"channel":         string(n.Channel),
		event.KeyDetail:   sendErr.Error(),
	}))
}
