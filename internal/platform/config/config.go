package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IntervalPolicy decides what tick does with risk-recommended calibration
// intervals.
type IntervalPolicy string

const (
	// IntervalPolicyAuto applies recommended intervals immediately.
	IntervalPolicyAuto IntervalPolicy = "auto"
	// IntervalPolicyPropose surfaces recommendations in the tick change set
	// for review instead of applying them.
	IntervalPolicyPropose IntervalPolicy = "propose"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	DatabaseURL   string
	KafkaBrokers  []string
	KafkaTopic    string

	// DueWindowDays controls how far ahead of the calibration due date an
	// equipment shows as "due". Regulatory default is one week.
	DueWindowDays int

	IntervalPolicy IntervalPolicy

	Redis RedisConfig
}

// RedisConfig holds connection settings for the optional Redis-backed
// notification stream.
type RedisConfig struct {
	URL          string
	Stream       string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CALTRACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	policy := IntervalPolicy(os.Getenv("CALTRACK_INTERVAL_POLICY"))
	if policy != IntervalPolicyAuto && policy != IntervalPolicyPropose {
		policy = IntervalPolicyPropose
	}

	var brokers []string
	if v := os.Getenv("CALTRACK_KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}
	topic := os.Getenv("CALTRACK_KAFKA_TOPIC")
	if topic == "" {
		topic = "caltrack.lifecycle"
	}

	return Server{
		Addr:           addr,
		JWTSigningKey:  jwtSigningKey,
		DatabaseURL:    os.Getenv("CALTRACK_DATABASE_URL"),
		KafkaBrokers:   brokers,
		KafkaTopic:     topic,
		DueWindowDays:  envInt("CALTRACK_DUE_WINDOW_DAYS", 7),
		IntervalPolicy: policy,
		Redis: RedisConfig{
			URL:          os.Getenv("CALTRACK_REDIS_URL"),
			Stream:       envDefault("CALTRACK_REDIS_STREAM", "caltrack:notifications"),
			PoolSize:     envInt("CALTRACK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CALTRACK_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
