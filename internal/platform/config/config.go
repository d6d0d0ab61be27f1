package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr string

	// StoreBackend selects the domain registry persistence: memory, postgres
	// or redis.
	StoreBackend string
	PostgresDSN  string
	RedisURL     string

	// CABackend selects the certificate authority implementation: mock or acme.
	CABackend        string
	ACMEEmail        string
	ACMEDirectoryURL string
	ACMEHTTP01Addr   string

	// KafkaBrokers enables the Kafka transition-record publisher when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// JWTSigningKey enables bearer auth on mutating endpoints when non-empty.
	JWTSigningKey string

	Scheduler Scheduler

	// TriggerMaxAttempts bounds engine retries on version conflicts.
	TriggerMaxAttempts int
}

// Scheduler configures the lifecycle sweep loop.
type Scheduler struct {
	Interval time.Duration
	// RenewalThreshold is how close to expiry a certificate must be before a
	// renewal event is emitted.
	RenewalThreshold time.Duration
	// TransientTimeout is the staleness budget for requesting/validating/
	// renewing before a synthetic failure event moves the domain to failed.
	TransientTimeout time.Duration
}

// FromEnv builds a Server config from CERTFSM_* environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("CERTFSM_ADDR", ":8080"),
		StoreBackend:       envOr("CERTFSM_STORE", "memory"),
		PostgresDSN:        os.Getenv("CERTFSM_POSTGRES_DSN"),
		RedisURL:           os.Getenv("CERTFSM_REDIS_URL"),
		CABackend:          envOr("CERTFSM_CA", "mock"),
		ACMEEmail:          os.Getenv("CERTFSM_ACME_EMAIL"),
		ACMEDirectoryURL:   os.Getenv("CERTFSM_ACME_DIRECTORY_URL"),
		ACMEHTTP01Addr:     os.Getenv("CERTFSM_ACME_HTTP01_ADDR"),
		KafkaTopic:         envOr("CERTFSM_KAFKA_TOPIC", "certfsm.transitions"),
		JWTSigningKey:      os.Getenv("CERTFSM_JWT_SIGNING_KEY"),
		TriggerMaxAttempts: envInt("CERTFSM_TRIGGER_MAX_ATTEMPTS", 3),
		Scheduler: Scheduler{
			Interval:         envDuration("CERTFSM_SCHEDULER_INTERVAL", time.Minute),
			RenewalThreshold: envDuration("CERTFSM_RENEWAL_THRESHOLD", 30*24*time.Hour),
			TransientTimeout: envDuration("CERTFSM_TRANSIENT_TIMEOUT", 15*time.Minute),
		},
	}

	if brokers := os.Getenv("CERTFSM_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
