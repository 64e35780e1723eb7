package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("SWEEP_INTERVAL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("expected sweep interval 30s, got %v", cfg.SweepInterval)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.BatchSize)
	}
	if cfg.EventRateLimit != 60 {
		t.Errorf("expected event rate limit 60, got %d", cfg.EventRateLimit)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("SWEEP_INTERVAL", "10")
	os.Setenv("SEND_TIMEOUT", "5")
	os.Setenv("SQS_EVENTS_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/events")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("SWEEP_INTERVAL")
		os.Unsetenv("SEND_TIMEOUT")
		os.Unsetenv("SQS_EVENTS_QUEUE_URL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.SweepInterval != 10*time.Second {
		t.Errorf("expected sweep interval 10s, got %v", cfg.SweepInterval)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Errorf("expected send timeout 5s, got %v", cfg.SendTimeout)
	}
	if cfg.SQSEventsQueueURL == "" {
		t.Error("expected SQS events queue URL to be set")
	}
}

func TestLoad_SNSRegionFallsBackToAWSRegion(t *testing.T) {
	os.Setenv("AWS_REGION", "eu-west-1")
	os.Unsetenv("SNS_REGION")
	os.Unsetenv("SQS_REGION")
	defer os.Unsetenv("AWS_REGION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.SNSRegion != "eu-west-1" {
		t.Errorf("expected SNS region to fall back to eu-west-1, got %s", cfg.SNSRegion)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("expected SQS region to fall back to eu-west-1, got %s", cfg.SQSRegion)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"PORT", "not-a-number"},
		{"DB_PORT", "x"},
		{"REDIS_DB", "y"},
		{"BATCH_SIZE", "many"},
		{"EVENT_RATE_LIMIT", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			os.Setenv(tt.env, tt.value)
			defer os.Unsetenv(tt.env)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.env, tt.value)
			}
		})
	}
}
