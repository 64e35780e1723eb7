package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS services
	AWSRegion     string
	SESFromEmail  string
	SNSRegion     string
	AlertTopicARN string // SNS topic for delivery-failure ops alerts

	// SQS event ingest (optional remote producers)
	SQSRegion         string
	SQSEventsQueueURL string

	// Push channel
	PushGatewayURL string
	PushTimeout    time.Duration

	// Dispatcher / retry sweep
	SweepInterval time.Duration
	BatchSize     int
	SendTimeout   time.Duration

	// Per-user event rate limit
	EventRateLimit  int
	EventRateWindow time.Duration

	// Retention for read notifications
	ReadRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "motonotify",
		DBPassword: "",
		DBName:     "motonotify",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@motonotify.local",

		PushTimeout: 10 * time.Second,

		SweepInterval: 30 * time.Second,
		BatchSize:     25,
		SendTimeout:   15 * time.Second,

		EventRateLimit:  60,
		EventRateWindow: 1 * time.Minute,

		ReadRetention: 90 * 24 * time.Hour,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// AWS
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}
	if arn := os.Getenv("ALERT_TOPIC_ARN"); arn != "" {
		cfg.AlertTopicARN = arn
	}

	// SQS ingest
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if url := os.Getenv("SQS_EVENTS_QUEUE_URL"); url != "" {
		cfg.SQSEventsQueueURL = url
	}

	// Push channel
	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		cfg.PushGatewayURL = url
	}
	if timeout := os.Getenv("PUSH_TIMEOUT"); timeout != "" {
		secs, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = time.Duration(secs) * time.Second
	}

	// Dispatcher
	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		secs, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = time.Duration(secs) * time.Second
	}
	if size := os.Getenv("BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}
	if timeout := os.Getenv("SEND_TIMEOUT"); timeout != "" {
		secs, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT: %w", err)
		}
		cfg.SendTimeout = time.Duration(secs) * time.Second
	}

	// Event rate limiting
	if limit := os.Getenv("EVENT_RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid EVENT_RATE_LIMIT: %w", err)
		}
		cfg.EventRateLimit = n
	}
	if window := os.Getenv("EVENT_RATE_WINDOW"); window != "" {
		secs, err := strconv.Atoi(window)
		if err != nil {
			return nil, fmt.Errorf("invalid EVENT_RATE_WINDOW: %w", err)
		}
		cfg.EventRateWindow = time.Duration(secs) * time.Second
	}

	// Retention
	if days := os.Getenv("READ_RETENTION_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid READ_RETENTION_DAYS: %w", err)
		}
		cfg.ReadRetention = time.Duration(n) * 24 * time.Hour
	}

	return cfg, nil
}
