// Package config loads the runtime config surface from environment
// variables, following the same os.Getenv + fmt.Sscanf pattern as the
// rest of this codebase's main.go wiring; no YAML/viper layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type TTLConfig struct {
	JanitorInterval       time.Duration
	CompactorInterval     time.Duration
	ReconcilerInterval    time.Duration
	ReconciliationInterval time.Duration
	InvariantInterval     time.Duration
	ReservationOrphanAge  time.Duration
	MarkerTTL             time.Duration
	DedupTTL              time.Duration
}

type OffPeakHours struct {
	Start       int // hour 0-23
	End         int
	Timezone    string
	DaysOfWeek  []int // 0=Sunday
}

type ColdStartShape struct {
	InitialLimit   int
	RampSuccesses  int
	StepMultiplier int
}

type Config struct {
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	PostgresDSN      string
	HTTPAddr         string
	MetricsAddr      string
	NodeID           string
	PrimaryInstance  bool

	MaxConcurrentOutboundCalls int

	TTL       TTLConfig
	OffPeak   OffPeakHours
	ColdStart ColdStartShape
}

func Load() Config {
	c := Config{
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		NodeID:          getEnv("NODE_ID", hostnameOrDefault()),
		PrimaryInstance: getEnv("INSTANCE_INDEX", "0") == "0",

		MaxConcurrentOutboundCalls: getEnvInt("MAX_CONCURRENT_OUTBOUND_CALLS", 50),

		TTL: TTLConfig{
			JanitorInterval:        getEnvSeconds("TTL_JANITOR_SECONDS", 30),
			CompactorInterval:      getEnvSeconds("TTL_COMPACTOR_SECONDS", 120),
			ReconcilerInterval:     getEnvSeconds("TTL_RECONCILER_SECONDS", 300),
			ReconciliationInterval: getEnvSeconds("TTL_RECONCILIATION_SECONDS", 900),
			InvariantInterval:      getEnvSeconds("TTL_INVARIANT_SECONDS", 30),
			ReservationOrphanAge:   getEnvSeconds("TTL_RESERVATION_ORPHAN_AGE_SECONDS", 300),
			MarkerTTL:              getEnvSeconds("TTL_MARKER_SECONDS", 30),
			DedupTTL:               getEnvSeconds("TTL_DEDUP_SECONDS", 86400),
		},

		OffPeak: OffPeakHours{
			Start:    getEnvInt("OFF_PEAK_START_HOUR", 21),
			End:      getEnvInt("OFF_PEAK_END_HOUR", 8),
			Timezone: getEnv("OFF_PEAK_TIMEZONE", "UTC"),
		},

		ColdStart: ColdStartShape{
			InitialLimit:   getEnvInt("COLD_START_INITIAL_LIMIT", 1),
			RampSuccesses:  getEnvInt("COLD_START_RAMP_SUCCESSES", 2),
			StepMultiplier: getEnvInt("COLD_START_STEP_MULTIPLIER", 2),
		},
	}
	return c
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "instance-" + strconv.Itoa(os.Getpid())
	}
	return h
}
