package config

import (
	"os"
	"strings"
	"time"
)

// Config captures service level configuration.
type Config struct {
	Addr string

	// PostgresDSN selects the postgres record store when non-empty;
	// otherwise the in-memory store is used.
	PostgresDSN string

	// RedisURL enables cross-process record-update fan-out when non-empty.
	RedisURL string

	// KafkaBrokers enables the kafka terminal-event notifier when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// JWTSigningKey verifies bearer tokens issued by the hosted auth
	// provider. Auth itself is delegated; we only check signatures here.
	JWTSigningKey string

	// StepDelay is the simulated portal latency per driver transition.
	StepDelay time.Duration

	// RunTimeout bounds a whole automation run. A run that has not reached
	// a terminal state by then is failed by the supervising timeout.
	RunTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:          getEnv("CHARGEGATE_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("CHARGEGATE_POSTGRES_DSN"),
		RedisURL:      os.Getenv("CHARGEGATE_REDIS_URL"),
		KafkaTopic:    getEnv("CHARGEGATE_KAFKA_TOPIC", "filing.events"),
		JWTSigningKey: getEnv("CHARGEGATE_JWT_KEY", "dev-secret-key-change-in-production"),
		StepDelay:     getDuration("CHARGEGATE_STEP_DELAY", 2*time.Second),
		RunTimeout:    getDuration("CHARGEGATE_RUN_TIMEOUT", 5*time.Minute),
	}
	if brokers := os.Getenv("CHARGEGATE_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
