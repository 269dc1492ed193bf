package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// Rule limits requests whose method and path match. Pattern segments written
// as {name} match any single path segment.
type Rule struct {
	Pattern string
	Method  string
	Limit   int           // Maximum requests per window
	Window  time.Duration // Time window
	Burst   int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
	Trusted map[string]bool
	Rules   []Rule
}

// DefaultConfig limits every generating endpoint to generationRate requests
// per user per hour. A non-positive rate leaves generation unlimited.
func DefaultConfig(generationRate int) *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Trusted:         map[string]bool{},
		Rules:           DefaultRules(generationRate),
	}
}

// DefaultRules returns the per-endpoint rules. Generation is the only
// expensive operation; writes get a moderate limit and reads fall through to
// the default.
func DefaultRules(generationRate int) []Rule {
	burst := min(generationRate, 3)
	var rules []Rule
	for _, p := range []string{
		"/users/{id}/journey/questions",
		"/users/{id}/journey/career-paths",
		"/users/{id}/journey/roadmap",
		"/users/{id}/journey/topics/assessment",
		"/users/{id}/journey/topics/evaluation",
	} {
		rules = append(rules, Rule{Pattern: p, Method: "POST", Limit: generationRate, Window: time.Hour, Burst: burst})
	}
	return append(rules,
		Rule{Pattern: "/users/{id}/journey/{action}", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		Rule{Pattern: "/users/{id}/profile", Method: "PUT", Limit: 100, Window: time.Minute, Burst: 10},
		Rule{Pattern: "/users/{id}/artifacts/{type}", Method: "DELETE", Limit: 100, Window: time.Minute, Burst: 10},
	)
}

// LoadConfig builds the configuration from environment variables on top of
// DefaultConfig.
func LoadConfig(getenv func(string) string, generationRate int) *Config {
	cfg := DefaultConfig(generationRate)
	if v, err := strconv.ParseBool(getenv("RATE_LIMIT_ENABLED")); err == nil {
		cfg.Enabled = v
	}
	if v, err := strconv.Atoi(getenv("RATE_LIMIT_DEFAULT_LIMIT")); err == nil {
		cfg.DefaultLimit = v
	}
	if v, err := time.ParseDuration(getenv("RATE_LIMIT_DEFAULT_WINDOW")); err == nil {
		cfg.DefaultWindow = v
	}
	for _, ip := range strings.Split(getenv("RATE_LIMIT_TRUSTED"), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			cfg.Trusted[ip] = true
		}
	}
	return cfg
}
