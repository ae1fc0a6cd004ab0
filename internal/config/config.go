package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the server and the headless peer.
type Config struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	StaticDir       string
	AllowedOrigins  []string
	SendQueue       int
	MaxMessageBytes int64
	RateLimit       float64
	RateBurst       int
	STUNURLs        []string
	SignalURL       string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getenv("YACALL_ADDR", ":8081"),
		LogLevel:       getenv("YACALL_LOG_LEVEL", "info"),
		LogFormat:      getenv("YACALL_LOG_FORMAT", "console"),
		StaticDir:      os.Getenv("YACALL_STATIC_DIR"),
		AllowedOrigins: list(os.Getenv("YACALL_ALLOWED_ORIGINS")),
		STUNURLs:       list(getenv("YACALL_STUN_URLS", "stun:stun.l.google.com:19302")),
		SignalURL:      getenv("YACALL_SIGNAL_URL", "ws://localhost:8081/ws"),
	}

	var err error
	if cfg.SendQueue, err = intVar("YACALL_SEND_QUEUE", 256); err != nil {
		return nil, err
	}
	maxBytes, err := intVar("YACALL_MAX_MESSAGE_BYTES", 64*1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)
	if cfg.RateBurst, err = intVar("YACALL_RATE_BURST", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = floatVar("YACALL_RATE_LIMIT", 50); err != nil {
		return nil, err
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("YACALL_LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func list(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intVar(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func floatVar(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, v)
	}
	return f, nil
}
