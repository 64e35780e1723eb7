package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/api"
	"github.com/ridelogic/motonotify/internal/circuitbreaker"
	"github.com/ridelogic/motonotify/internal/config"
	"github.com/ridelogic/motonotify/internal/dispatch"
	"github.com/ridelogic/motonotify/internal/event"
	"github.com/ridelogic/motonotify/internal/factory"
	"github.com/ridelogic/motonotify/internal/metrics"
	"github.com/ridelogic/motonotify/internal/observ"
	"github.com/ridelogic/motonotify/internal/redis"
	"github.com/ridelogic/motonotify/internal/sns"
	"github.com/ridelogic/motonotify/internal/sqs"
	"github.com/ridelogic/motonotify/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting motonotify",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// Database
	database, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	notifications := store.NewNotificationRepository(database, logger)
	preferences := store.NewPreferenceRepository(database, logger)

	// Redis backs the live feed, event rate limiting and ingest dedup.
	// The engine degrades without it rather than refusing to start.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, live feed and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var (
		feed        *redis.Feed
		rateLimiter *redis.RateLimiter
	)
	if redisClient != nil {
		defer redisClient.Close()
		feed = redis.NewFeed(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.EventRateLimit,
			Window: cfg.EventRateWindow,
		})
	}

	// Event bus and notification factory
	bus := event.NewBus(logger)

	stages := []event.Stage{
		event.Logging(logger),
		event.Validation(logger, []string{event.KeyUserID}, func() {
			metrics.RecordEventDropped("validation")
		}),
	}
	if rateLimiter != nil {
		stages = append(stages, event.RateLimit(logger, rateLimiter.LimitFunc(), func() {
			metrics.RecordEventDropped("rate_limit")
		}))
	}

	notificationFactory := factory.New(notifications, preferences, logger)
	notificationFactory.SubscribeAll(bus, stages...)

	// Channel senders, each external one behind its own breaker
	sender, err := buildSender(ctx, cfg, feed, preferences, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(notifications, sender, bus, dispatch.Config{
		SendTimeout: cfg.SendTimeout,
	}, logger)

	sweep := dispatch.NewSweep(notifications, dispatcher, dispatch.SweepConfig{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.BatchSize,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go sweep.Start(workerCtx)
	logger.Info("delivery sweep started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Int("batch_size", cfg.BatchSize),
	)

	// Daily purge of read notifications past retention.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := notifications.PurgeReadOlderThan(workerCtx, cfg.ReadRetention); err != nil {
					logger.Error("retention purge failed", zap.Error(err))
				}
			}
		}
	}()

	// Ops alerts for exhausted deliveries
	if cfg.AlertTopicARN != "" {
		alerts, err := sns.NewAlertPublisher(ctx, cfg.SNSRegion, cfg.AlertTopicARN, logger)
		if err != nil {
			logger.Warn("alert publisher unavailable, delivery alerts disabled",
				zap.Error(err),
			)
		} else {
			bus.Subscribe(event.TypeDeliveryFailed, alerts.HandleDeliveryFailed)
		}
	}

	// Remote producer ingest
	if cfg.SQSEventsQueueURL != "" && redisClient != nil {
		ingest, err := sqs.NewIngest(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSEventsQueueURL,
		}, bus, redis.NewDeduper(redisClient), logger)
		if err != nil {
			logger.Warn("sqs ingest unavailable, remote events disabled",
				zap.Error(err),
			)
		} else {
			go ingest.Run(workerCtx)
		}
	}

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, notifications, preferences, bus)
	r.Group(func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Stop the sweep and ingest loops, then let in-flight event
		// handlers finish before the process exits.
		workerCancel()
		if err := bus.Drain(shutdownCtx); err != nil {
			logger.Warn("event bus drain incomplete", zap.Error(err))
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSender assembles the multi-channel sender. The in-app channel
// is always available; external channels are added when their
// transport initializes, each behind its own circuit breaker.
func buildSender(
	ctx context.Context,
	cfg *config.Config,
	feed *redis.Feed,
	contacts dispatch.ContactResolver,
	logger *zap.Logger,
) (dispatch.Sender, error) {
	var feedPublisher dispatch.FeedPublisher
	if feed != nil {
		feedPublisher = feed
	}
	senders := []dispatch.Sender{
		dispatch.NewInAppSender(feedPublisher, logger),
	}

	sesSender, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, contacts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SES email sender: %w", err)
	}
	senders = append(senders, protect("email", sesSender, logger))

	snsSender, err := dispatch.NewSNSSender(ctx, dispatch.SNSConfig{
		Region: cfg.SNSRegion,
	}, contacts, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, protect("sms", snsSender, logger))
	}

	if cfg.PushGatewayURL != "" {
		pushSender := dispatch.NewPushSender(dispatch.PushConfig{
			GatewayURL: cfg.PushGatewayURL,
			Timeout:    cfg.PushTimeout,
		}, contacts, logger)
		senders = append(senders, protect("push", pushSender, logger))
	}

	logger.Info("initialized multi-channel delivery",
		zap.Bool("email_enabled", true),
		zap.Bool("sms_enabled", snsSender != nil),
		zap.Bool("push_enabled", cfg.PushGatewayURL != ""),
	)

	return dispatch.NewMultiSender(logger, senders...), nil
}

func protect(name string, sender dispatch.Sender, logger *zap.Logger) dispatch.Sender {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
	return circuitbreaker.NewProtectedSender(sender, breaker, logger)
}
