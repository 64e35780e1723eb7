package event

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Stage wraps a handler with one composable behavior. Stages replace
// annotation-driven decorator stacks with an explicit ordered chain.
type Stage func(Handler) Handler

// Chain applies stages to h so that the first listed stage is the
// outermost wrapper.
func Chain(h Handler, stages ...Stage) Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// Logging logs every event entering the handler together with the
// handling duration.
func Logging(logger *zap.Logger) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt Event) {
			start := time.Now()
			next(ctx, evt)
			logger.Info("event handled",
				zap.String("event_type", string(evt.Type)),
				zap.String("correlation_id", evt.CorrelationID.String()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

// Validation drops events with an unknown type tag or missing required
// payload fields before they reach the handler. Dropped events are
// logged and counted via onDrop.
func Validation(logger *zap.Logger, required []string, onDrop func()) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt Event) {
			if !evt.Type.Valid() {
				logger.Warn("event dropped: unknown type",
					zap.String("event_type", string(evt.Type)),
				)
				if onDrop != nil {
					onDrop()
				}
				return
			}
			for _, field := range required {
				if evt.Payload[field] == "" {
					logger.Warn("event dropped: missing payload field",
						zap.String("event_type", string(evt.Type)),
						zap.String("field", field),
						zap.String("correlation_id", evt.CorrelationID.String()),
					)
					if onDrop != nil {
						onDrop()
					}
					return
				}
			}
			next(ctx, evt)
		}
	}
}

// LimitFunc decides whether one more event for key may pass. Wired to
// the Redis sliding-window limiter in production.
type LimitFunc func(ctx context.Context, key string) (bool, error)

// RateLimit drops events exceeding the per-user budget. Limiter errors
// fail open: an unreachable limiter must not stall notification
// creation.
func RateLimit(logger *zap.Logger, limit LimitFunc, onDrop func()) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt Event) {
			key := evt.Payload[KeyUserID]
			if key == "" {
				next(ctx, evt)
				return
			}
			allowed, err := limit(ctx, key)
			if err != nil {
				logger.Warn("rate limit check failed, allowing event", zap.Error(err))
				next(ctx, evt)
				return
			}
			if !allowed {
				logger.Warn("event dropped: user rate limit exceeded",
					zap.String("event_type", string(evt.Type)),
					zap.String("user_id", key),
				)
				if onDrop != nil {
					onDrop()
				}
				return
			}
			next(ctx, evt)
		}
	}
}
