package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings. Values come from the environment, with
// a .env file loaded first in development.
type Config struct {
	Port         string
	DatabasePath string
	RedisAddr    string // empty means in-process cache
	JWTSecret    string

	// Scheduler
	Interval      time.Duration
	MaxConcurrent int
	BrokerTimeout time.Duration
	Accounts      []string // monitored account IDs

	// Matcher tolerances
	VolumeTolerance   float64 // lots
	PriceTolerancePct float64 // fraction, 0.001 = 0.1%

	// Guard thresholds
	DrawdownWarningPct  float64
	DrawdownCriticalPct float64
	GapThresholdPct     float64
	MaxSpreadPct        float64

	// Cache
	CacheTTL time.Duration
}

// Load reads configuration from the environment. Missing values fall back to
// defaults; thresholds and tolerances are operational defaults, not fixed
// business rules.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	return Config{
		Port:         getString("PORT", "8080"),
		DatabasePath: getString("DATABASE_PATH", "guard.db"),
		RedisAddr:    getString("REDIS_ADDR", ""),
		JWTSecret:    getString("JWT_SECRET", "guard-secret-key"),

		Interval:      getDuration("RECONCILE_INTERVAL", 5*time.Second),
		MaxConcurrent: getInt("MAX_CONCURRENT_RECONCILIATIONS", 4),
		BrokerTimeout: getDuration("BROKER_TIMEOUT", 10*time.Second),
		Accounts:      getList("MONITORED_ACCOUNTS"),

		VolumeTolerance:   getFloat("VOLUME_TOLERANCE", 0.01),
		PriceTolerancePct: getFloat("PRICE_TOLERANCE_PCT", 0.001),

		DrawdownWarningPct:  getFloat("DRAWDOWN_WARNING_PCT", 0.10),
		DrawdownCriticalPct: getFloat("DRAWDOWN_CRITICAL_PCT", 0.20),
		GapThresholdPct:     getFloat("GAP_THRESHOLD_PCT", 0.02),
		MaxSpreadPct:        getFloat("MAX_SPREAD_PCT", 0.005),

		CacheTTL: getDuration("CACHE_TTL", 5*time.Second),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer setting, using default")
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float setting, using default")
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration setting, using default")
		return fallback
	}
	return d
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
