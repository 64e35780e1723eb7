package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New(DefaultConfig("ses"), zap.NewNop())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "sns", MaxFailures: 3, RecoveryTimeout: time.Second}, zap.NewNop())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open breaker must reject")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "push", MaxFailures: 3, RecoveryTimeout: time.Second}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("non-consecutive failures opened the circuit: %s", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeRecovery(t *testing.T) {
	cb := New(Config{Name: "ses", MaxFailures: 2, RecoveryTimeout: 30 * time.Millisecond}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	time.Sleep(40 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("only one probe is allowed at a time")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("successful probe should close: %s", cb.GetState())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := New(Config{Name: "ses", MaxFailures: 1, RecoveryTimeout: 30 * time.Millisecond}, zap.NewNop())
	cb.RecordFailure()
	time.Sleep(40 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("failed probe should reopen: %s", cb.GetState())
	}
}

// flakySender fails until told otherwise.
type flakySender struct {
	fail  bool
	calls int
}

func (s *flakySender) Send(ctx context.Context, n *notify.Notification) error {
	s.calls++
	if s.fail {
		return errors.New("provider error")
	}
	return nil
}

func (s *flakySender) SupportsChannel(channel notify.Channel) bool {
	return channel == notify.ChannelEmail
}

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	inner := &flakySender{fail: true}
	cb := New(Config{Name: "ses", MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	sender := NewProtectedSender(inner, cb, zap.NewNop())

	n, err := notify.New(uuid.New(), "Maintenance due", "Brake pads", notify.CategoryWarning, notify.ChannelEmail, nil)
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := sender.Send(ctx, n); err == nil {
			t.Fatal("expected provider error")
		}
	}

	// Circuit is now open: the inner sender is no longer invoked.
	before := inner.calls
	err = sender.Send(ctx, n)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != before {
		t.Error("open circuit still invoked the provider")
	}

	if !sender.SupportsChannel(notify.ChannelEmail) || sender.SupportsChannel(notify.ChannelSMS) {
		t.Error("SupportsChannel should delegate to the inner sender")
	}
}
