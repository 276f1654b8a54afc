package config

import (
	"fmt"
	"strings"
)

// ValidateStatic rejects configurations that can never work, before any
// connection is attempted.
func ValidateStatic(cfg *Config) error {
	var problems []string

	if cfg.Server.Port != 0 && (cfg.Server.Port < 1 || cfg.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}

	if cfg.Broker.Type != "" && cfg.Broker.Type != "kafka" {
		problems = append(problems, fmt.Sprintf("broker.type %q is not supported, only \"kafka\"", cfg.Broker.Type))
	}

	if cfg.Broker.Type == "kafka" {
		if len(cfg.Broker.Kafka.Brokers) == 0 {
			problems = append(problems, "broker.kafka.brokers must not be empty")
		}
		for _, b := range cfg.Broker.Kafka.Brokers {
			if strings.TrimSpace(b) == "" {
				problems = append(problems, "broker.kafka.brokers contains an empty address")
				break
			}
		}
	}

	if cfg.Database.Redis.Port != 0 && (cfg.Database.Redis.Port < 1 || cfg.Database.Redis.Port > 65535) {
		problems = append(problems, fmt.Sprintf("database.redis.port must be between 1 and 65535, got %d", cfg.Database.Redis.Port))
	}

	if cfg.Database.Postgres.Port != 0 && (cfg.Database.Postgres.Port < 1 || cfg.Database.Postgres.Port > 65535) {
		problems = append(problems, fmt.Sprintf("database.postgres.port must be between 1 and 65535, got %d", cfg.Database.Postgres.Port))
	}

	if cfg.Idempotency.TTL < 0 {
		problems = append(problems, "idempotency.ttl must not be negative")
	}
	if cfg.Idempotency.PollAttempts < 0 {
		problems = append(problems, "idempotency.poll_attempts must not be negative")
	}
	if cfg.Idempotency.PollInterval < 0 {
		problems = append(problems, "idempotency.poll_interval must not be negative")
	}

	if cfg.Consumer.SideEffectTimeout < 0 {
		problems = append(problems, "consumer.side_effect_timeout must not be negative")
	}
	if cfg.Consumer.Retry.MaxAttempts < 0 {
		problems = append(problems, "consumer.retry.max_attempts must not be negative")
	}
	if cfg.Consumer.Retry.Multiplier < 0 {
		problems = append(problems, "consumer.retry.multiplier must not be negative")
	}

	if cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.FailureRatio < 0 || cfg.CircuitBreaker.FailureRatio > 1 {
			problems = append(problems, fmt.Sprintf("circuitbreaker.failure_ratio must be within [0, 1], got %v", cfg.CircuitBreaker.FailureRatio))
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			problems = append(problems, "ratelimit.rps must be positive when rate limiting is enabled")
		}
		if cfg.RateLimit.Burst <= 0 {
			problems = append(problems, "ratelimit.burst must be positive when rate limiting is enabled")
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
