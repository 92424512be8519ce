// Package config builds process configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Redis captures counter store connection settings. An empty URL means Redis
// is not configured and the in-memory store is used instead.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres captures audit sink connection settings. An empty URL means audit
// records are kept in memory.
type Postgres struct {
	URL string
}

// Kafka captures optional audit fan-out settings. Empty brokers disable it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Gatekeeper captures pipeline behavior knobs.
type Gatekeeper struct {
	PolicyPath string
	// DefaultRole receives callers whose role string matches nothing known.
	DefaultRole string
	// RoleAliases maps raw caller role strings to known roles,
	// e.g. "intern=junior_intern,developer=junior_intern".
	RoleAliases map[string]string
	// FailOpen admits requests when the counter store is unreachable.
	// Default is fail-closed.
	FailOpen bool
	// StoreTimeout bounds calls to the counter store.
	StoreTimeout time.Duration
	// AuditBuffer sizes the async audit emission queue.
	AuditBuffer int
	// TokenSecret verifies bearer tokens when set. Header identity still
	// works without it.
	TokenSecret string
}

// Config is the full process configuration.
type Config struct {
	Server     Server
	Redis      Redis
	Postgres   Postgres
	Kafka      Kafka
	Gatekeeper Gatekeeper
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envOr("GATEKEEPER_ADDR", ":8080"),
			ShutdownTimeout: envDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("DATABASE_URL"),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS"), ","),
			Topic:   envOr("KAFKA_AUDIT_TOPIC", "gatekeeper.audit"),
		},
		Gatekeeper: Gatekeeper{
			PolicyPath:   envOr("ROLES_CONFIG_PATH", "config/roles.yaml"),
			DefaultRole:  envOr("GATEKEEPER_DEFAULT_ROLE", "junior_intern"),
			RoleAliases:  parseAliases(os.Getenv("GATEKEEPER_ROLE_ALIASES")),
			FailOpen:     os.Getenv("GATEKEEPER_FAIL_OPEN") == "true",
			StoreTimeout: envDuration("GATEKEEPER_STORE_TIMEOUT", 2*time.Second),
			AuditBuffer:  envInt("GATEKEEPER_AUDIT_BUFFER", 1024),
			TokenSecret:  os.Getenv("GATEKEEPER_TOKEN_SECRET"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAliases decodes "raw=known,raw2=known2" pairs. Malformed entries are
// skipped rather than failing startup.
func parseAliases(s string) map[string]string {
	if s == "" {
		return nil
	}
	aliases := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		raw, known, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || raw == "" || known == "" {
			continue
		}
		aliases[strings.ToLower(raw)] = known
	}
	return aliases
}
