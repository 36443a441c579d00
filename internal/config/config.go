// Package config loads the single process-wide Config object named in the
// design notes: environment variables, with an optional YAML file read once
// at boot to seed defaults ahead of env overrides. There is no runtime
// reload — a configuration change is a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable process-wide configuration.
type Config struct {
	AuthToken                string
	LLMModel                 string
	LLMMaxTokens             int
	LLMMaxAttempts           int
	ClaimTTL                 time.Duration
	MaxRetries               int
	MaxReworkCycles          int
	AuditConfidenceThreshold float64
	LockTTL                  time.Duration
	FastModeDefault          bool
	Roles                    map[string]bool

	DatabaseURL  string
	ListenAddr   string
	OTELEndpoint string
	JSONLog      bool
	LogLevel     string
}

// fileSeed is the shape of an optional YAML config file; any field left
// zero-valued falls through to its environment-variable or hard default.
type fileSeed struct {
	AuthToken                string   `yaml:"auth_token"`
	LLMModel                 string   `yaml:"llm_model"`
	LLMMaxTokens             int      `yaml:"llm_max_tokens"`
	LLMMaxAttempts           int      `yaml:"llm_max_attempts"`
	ClaimTTL                 string   `yaml:"claim_ttl"`
	MaxRetries               int      `yaml:"max_retries"`
	MaxReworkCycles          int      `yaml:"max_rework_cycles"`
	AuditConfidenceThreshold float64  `yaml:"audit_confidence_threshold"`
	LockTTL                  string   `yaml:"lock_ttl"`
	FastModeDefault          bool     `yaml:"fast_mode_default"`
	Roles                    []string `yaml:"roles"`
	DatabaseURL              string   `yaml:"database_url"`
	ListenAddr               string   `yaml:"listen_addr"`
}

// Load reads an optional YAML seed file (configPath may be empty) then
// layers environment variables on top, and applies hard defaults last.
func Load(configPath string) (*Config, error) {
	var seed fileSeed
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg := &Config{
		AuthToken:                firstNonEmpty(os.Getenv("MCS_AUTH_TOKEN"), seed.AuthToken),
		LLMModel:                 firstNonEmpty(os.Getenv("MCS_LLM_MODEL"), seed.LLMModel, "claude-sonnet-4-5"),
		LLMMaxTokens:             firstPositiveInt(envInt("MCS_LLM_MAX_TOKENS"), seed.LLMMaxTokens, 4096),
		LLMMaxAttempts:           firstPositiveInt(envInt("MCS_LLM_MAX_ATTEMPTS"), seed.LLMMaxAttempts, 3),
		ClaimTTL:                 firstPositiveDuration(envDuration("MCS_CLAIM_TTL"), parseDuration(seed.ClaimTTL), 10*time.Minute),
		MaxRetries:               firstNonNegativeInt(envIntOrUnset("MCS_MAX_RETRIES"), seedIntOrUnset(seed.MaxRetries), 2),
		MaxReworkCycles:          firstNonNegativeInt(envIntOrUnset("MCS_MAX_REWORK_CYCLES"), seedIntOrUnset(seed.MaxReworkCycles), 2),
		AuditConfidenceThreshold: firstPositiveFloat(envFloat("MCS_AUDIT_CONFIDENCE_THRESHOLD"), seed.AuditConfidenceThreshold, 0.6),
		LockTTL:                  firstPositiveDuration(envDuration("MCS_LOCK_TTL"), parseDuration(seed.LockTTL), 10*time.Minute),
		FastModeDefault:          envBool("MCS_FAST_MODE_DEFAULT", seed.FastModeDefault),
		Roles:                    rolesSet(os.Getenv("MCS_ROLES"), seed.Roles),
		DatabaseURL:              firstNonEmpty(os.Getenv("MCS_DATABASE_URL"), seed.DatabaseURL),
		ListenAddr:               firstNonEmpty(os.Getenv("MCS_LISTEN_ADDR"), seed.ListenAddr, ":8080"),
		OTELEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		JSONLog:                  strings.ToLower(os.Getenv("MCS_JSON_LOG")) == "1" || strings.ToLower(os.Getenv("MCS_JSON_LOG")) == "true",
		LogLevel:                 os.Getenv("MCS_LOG_LEVEL"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast rather than serve with a broken auth/role configuration.
func (c *Config) Validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("config: auth_token must not be empty")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config: roles must not be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database_url must not be empty")
	}
	return nil
}

func rolesSet(envCSV string, fileRoles []string) map[string]bool {
	var raw []string
	if envCSV != "" {
		raw = strings.Split(envCSV, ",")
	} else if len(fileRoles) > 0 {
		raw = fileRoles
	} else {
		raw = []string{"analyst", "researcher", "writer", "developer", "tester", "architect", "auditor"}
	}
	set := make(map[string]bool, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			set[r] = true
		}
	}
	return set
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveInt(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// firstNonNegativeInt returns the first val >= 0, where a negative value
// (from envIntOrUnset's -1 sentinel) means "not configured at this layer".
// The last val is always the hard default and is returned unconditionally.
func firstNonNegativeInt(vals ...int) int {
	for i, v := range vals {
		if v >= 0 || i == len(vals)-1 {
			return v
		}
	}
	return 0
}

func firstPositiveFloat(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositiveDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// envIntOrUnset returns -1 (rather than 0) when the variable is absent or
// unparseable, so an explicit "0" survives firstNonNegativeInt's layering.
func envIntOrUnset(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// seedIntOrUnset maps a zero-valued seed field to -1, so an absent YAML key
// falls through firstNonNegativeInt's layering like an unset variable.
func seedIntOrUnset(v int) int {
	if v == 0 {
		return -1
	}
	return v
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envDuration(key string) time.Duration {
	return parseDuration(os.Getenv(key))
}

func parseDuration(v string) time.Duration {
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
