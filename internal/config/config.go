// Package config loads service settings from AUTHORITY_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for cmd/api.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PublicBaseURL   string
	PGDSN           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	AMQPURL         string
	AMQPQueue       string
	PasscodeCost    int
	ValidateLimit   int
	ValidateWindow  time.Duration
	SessionTTL      time.Duration
	HTTPRateBurst   int
	HTTPRatePerSec  int
	MaxBodyBytes    int64
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

// LoadEnvFiles merges .env style files into the process environment.
// Variables already set win; missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        envStr("AUTHORITY_HTTP_ADDR", ":8080"),
		GRPCAddr:        envStr("AUTHORITY_GRPC_ADDR", ":9090"),
		PublicBaseURL:   strings.TrimRight(envStr("AUTHORITY_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		PGDSN:           os.Getenv("AUTHORITY_PG_DSN"),
		RedisAddr:       os.Getenv("AUTHORITY_REDIS_ADDR"),
		RedisPassword:   os.Getenv("AUTHORITY_REDIS_PASSWORD"),
		RedisDB:         envInt("AUTHORITY_REDIS_DB", 0),
		AMQPURL:         os.Getenv("AUTHORITY_AMQP_URL"),
		AMQPQueue:       envStr("AUTHORITY_AMQP_QUEUE", "authority.events"),
		PasscodeCost:    envInt("AUTHORITY_PASSCODE_COST", 12),
		ValidateLimit:   envInt("AUTHORITY_VALIDATE_LIMIT", 30),
		ValidateWindow:  envDur("AUTHORITY_VALIDATE_WINDOW", 15*time.Minute),
		SessionTTL:      envDur("AUTHORITY_SESSION_TTL", 15*time.Minute),
		HTTPRateBurst:   envInt("AUTHORITY_HTTP_RATE_BURST", 50),
		HTTPRatePerSec:  envInt("AUTHORITY_HTTP_RATE_PER_SEC", 20),
		MaxBodyBytes:    int64(envInt("AUTHORITY_MAX_BODY_BYTES", 8<<20)),
		CORSOrigins:     envList("AUTHORITY_CORS_ORIGINS"),
		ShutdownTimeout: envDur("AUTHORITY_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if !envBool("AUTHORITY_GRPC_ENABLED", true) {
		cfg.GRPCAddr = ""
	}
	proxies, err := ParsePrefixes(envList("AUTHORITY_TRUSTED_PROXIES"))
	if err != nil {
		return cfg, fmt.Errorf("config: AUTHORITY_TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return errors.New("config: AUTHORITY_HTTP_ADDR is empty")
	case c.PasscodeCost < 4 || c.PasscodeCost > 31:
		return fmt.Errorf("config: AUTHORITY_PASSCODE_COST %d out of range 4..31", c.PasscodeCost)
	case c.ValidateLimit < 1:
		return errors.New("config: AUTHORITY_VALIDATE_LIMIT must be positive")
	case c.ValidateWindow <= 0:
		return errors.New("config: AUTHORITY_VALIDATE_WINDOW must be positive")
	case c.SessionTTL <= 0:
		return errors.New("config: AUTHORITY_SESSION_TTL must be positive")
	case c.HTTPRateBurst < 1 || c.HTTPRatePerSec < 1:
		return errors.New("config: HTTP rate limits must be positive")
	case c.MaxBodyBytes < 1024:
		return errors.New("config: AUTHORITY_MAX_BODY_BYTES is too small")
	}
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("config: AUTHORITY_PUBLIC_BASE_URL %q must be an http(s) URL", c.PublicBaseURL)
	}
	return nil
}

// ParsePrefixes accepts CIDRs ("10.0.0.0/8") and bare addresses ("10.0.0.7").
func ParsePrefixes(items []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range items {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func envList(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
