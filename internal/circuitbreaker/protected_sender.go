package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// Sender mirrors dispatch.Sender to avoid a circular import.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification) error
	SupportsChannel(channel notify.Channel) bool
}

// ProtectedSender wraps a channel sender with a circuit breaker. A
// fast-failed send counts as an ordinary failed attempt upstream, so
// a dead provider burns through retries quickly instead of tying up
// dispatch workers.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps sender with breaker.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the breaker.
func (p *ProtectedSender) Send(ctx context.Context, n *notify.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", n.ID.String()),
			zap.String("channel", string(n.Channel)),
		)
		return fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := p.sender.Send(ctx, n); err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel notify.Channel) bool {
	return p.sender.SupportsChannel(channel)
}
