package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/rms-availability/internal/jobs"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string
	// SettingsKey seals the stored API token. Set only with DatabaseURL.
	SettingsKey []byte

	LogLevel  string
	LogFormat string

	RMS     RMS
	Gateway Gateway
	Cache   Cache
	Prewarm Prewarm

	RouterTimeout      time.Duration
	Rules              jobs.Rules
	ExcludedCategories []int
}

type RMS struct {
	BaseURL   string
	Subdomain string
	APIToken  string
	Locations []int64
	MaxPages  int
}

type Gateway struct {
	MinGap        time.Duration
	MaxConcurrent int
	RetryDelay    time.Duration
	RetryBackoff  float64
	MaxRetries    int
	HTTPTimeout   time.Duration
}

// Prewarm keeps a rolling window warm while serving. A zero Interval
// disables it.
type Prewarm struct {
	Interval time.Duration
	Days     int
}

type Cache struct {
	TTL            time.Duration
	SoftBatchSize  int
	SoftBatchPause time.Duration
}

// FromEnv reads configuration from the environment, after loading a .env
// file from the working directory when one exists.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	e := &env{}
	cfg := Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
		RMS: RMS{
			BaseURL:   getenv("RMS_BASE_URL", "https://api.current-rms.com/api/v1"),
			Subdomain: strings.TrimSpace(os.Getenv("RMS_SUBDOMAIN")),
			APIToken:  strings.TrimSpace(os.Getenv("RMS_API_TOKEN")),
			Locations: e.int64s("RMS_LOCATIONS", ""),
			MaxPages:  e.positive("CACHE_MAX_LIST_PAGES", 10),
		},
		Gateway: Gateway{
			MinGap:        e.millis("GATEWAY_MIN_GAP_MS", 260),
			MaxConcurrent: e.positive("GATEWAY_MAX_CONCURRENT", 2),
			RetryDelay:    e.millis("GATEWAY_RETRY_DELAY_MS", 2200),
			RetryBackoff:  e.number("GATEWAY_RETRY_BACKOFF", 1.5),
			MaxRetries:    e.nonNegative("GATEWAY_MAX_RETRIES", 2),
			HTTPTimeout:   e.seconds("GATEWAY_HTTP_TIMEOUT_SECONDS", 30),
		},
		Cache: Cache{
			TTL:            e.seconds("CACHE_TTL_SECONDS", 900),
			SoftBatchSize:  e.positive("CACHE_SOFT_BATCH_SIZE", 15),
			SoftBatchPause: e.millis("CACHE_SOFT_BATCH_PAUSE_MS", 1500),
		},
		Prewarm: Prewarm{
			Interval: time.Duration(e.nonNegative("PREWARM_INTERVAL_SECONDS", 0)) * time.Second,
			Days:     e.positive("PREWARM_DAYS", 14),
		},
		RouterTimeout: e.seconds("ROUTER_TIMEOUT_SECONDS", 55),
		Rules: jobs.Rules{
			DraftState:       e.nonNegative("JOB_STATE_DRAFT", 1),
			ProvisionalState: e.nonNegative("JOB_STATE_PROVISIONAL", 2),
			ReservedState:    e.nonNegative("JOB_STATE_RESERVED", 3),
			OrderState:       e.nonNegative("JOB_STATE_ORDER", 4),
			ConfirmedStatus:  e.nonNegative("JOB_STATUS_CONFIRMED", 60),
		},
		ExcludedCategories: e.ints("STOCK_EXCLUDED_CATEGORIES", "10,30,40"),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	if cfg.Gateway.RetryBackoff < 1 {
		return Config{}, fmt.Errorf("invalid GATEWAY_RETRY_BACKOFF: must be >= 1")
	}

	if cfg.DatabaseURL != "" {
		raw := os.Getenv("SETTINGS_ENC_KEY")
		if raw == "" {
			return Config{}, fmt.Errorf("SETTINGS_ENC_KEY is required with DATABASE_URL (32 bytes base64, see `rmsavail keys`)")
		}
		key, err := decodeB64(raw)
		if err != nil {
			return Config{}, fmt.Errorf("SETTINGS_ENC_KEY: %w", err)
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("SETTINGS_ENC_KEY: want 32 bytes, got %d", len(key))
		}
		cfg.SettingsKey = key
	}

	return cfg, nil
}

// decodeB64 accepts a base64 value or a path to a file holding one, for
// secret mounts.
func decodeB64(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

// env parses typed values and keeps the first failure.
type env struct {
	err error
}

func (e *env) fail(k, v, want string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: want %s", k, v, want)
	}
}

func (e *env) integer(k string, def int) (int, bool) {
	v := getenv(k, "")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "an integer")
		return def, false
	}
	return n, true
}

func (e *env) positive(k string, def int) int {
	n, ok := e.integer(k, def)
	if ok && n < 1 {
		e.fail(k, strconv.Itoa(n), "a positive integer")
	}
	return n
}

func (e *env) nonNegative(k string, def int) int {
	n, ok := e.integer(k, def)
	if ok && n < 0 {
		e.fail(k, strconv.Itoa(n), "a non-negative integer")
	}
	return n
}

func (e *env) millis(k string, def int) time.Duration {
	return time.Duration(e.nonNegative(k, def)) * time.Millisecond
}

func (e *env) seconds(k string, def int) time.Duration {
	return time.Duration(e.positive(k, def)) * time.Second
}

func (e *env) number(k string, def float64) float64 {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "a number")
		return def
	}
	return f
}

func (e *env) int64s(k, def string) []int64 {
	var out []int64
	for _, p := range splitCSV(getenv(k, def)) {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			e.fail(k, p, "a comma-separated list of ids")
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (e *env) ints(k, def string) []int {
	var out []int
	for _, p := range splitCSV(getenv(k, def)) {
		n, err := strconv.Atoi(p)
		if err != nil {
			e.fail(k, p, "a comma-separated list of integers")
			return nil
		}
		out = append(out, n)
	}
	return out
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
