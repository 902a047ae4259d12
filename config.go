package mcpeek

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings resolved before a transport is built: discovery verbosity,
// call timeout, output format, log level, and credentials. Values are resolved in layers:
// built-in defaults, then an optional YAML file, then MCPEEK_* environment variables.
// Command-line flags, applied by the caller, override all three.
type Config struct {
	Verbosity int
	Timeout   time.Duration
	Format    string
	LogLevel  string

	// APIKey is a bare token sent as an Authorization bearer header.
	APIKey string
	// AuthHeader is a complete "Name: value" header, overriding APIKey.
	AuthHeader string
}

// fileConfig is the YAML shape of a config file. Durations are written as strings, e.g.
// "30s", and absent fields leave the lower layer's value in place.
type fileConfig struct {
	Verbosity  *int   `yaml:"verbosity"`
	Timeout    string `yaml:"timeout"`
	Format     string `yaml:"format"`
	LogLevel   string `yaml:"log_level"`
	APIKey     string `yaml:"api_key"`
	AuthHeader string `yaml:"auth_header"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Verbosity: 1,
		Timeout:   30 * time.Second,
		Format:    "json",
		LogLevel:  "info",
	}
}

// LoadConfig resolves a Config from defaults, the YAML file at path (skipped when path is
// empty or the file does not exist), and MCPEEK_* environment variables, in that order of
// increasing precedence.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		bs, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			var file fileConfig
			if err := yaml.Unmarshal(bs, &file); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			if err := cfg.applyFile(file); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyFile(file fileConfig) error {
	if file.Verbosity != nil {
		c.Verbosity = *file.Verbosity
	}
	if file.Timeout != "" {
		d, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("timeout must be a duration, got %q", file.Timeout)}
		}
		c.Timeout = d
	}
	if file.Format != "" {
		c.Format = file.Format
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.APIKey != "" {
		c.APIKey = file.APIKey
	}
	if file.AuthHeader != "" {
		c.AuthHeader = file.AuthHeader
	}

	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MCPEEK_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("MCPEEK_VERBOSITY must be an integer, got %q", v)}
		}
		c.Verbosity = n
	}
	if v := os.Getenv("MCPEEK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("MCPEEK_TIMEOUT must be a duration, got %q", v)}
		}
		c.Timeout = d
	}
	if v := os.Getenv("MCPEEK_FORMAT"); v != "" {
		c.Format = v
	}
	if v := os.Getenv("MCPEEK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MCPEEK_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("MCPEEK_AUTH_HEADER"); v != "" {
		c.AuthHeader = v
	}

	return nil
}

// Validate checks that every field carries a usable value.
func (c Config) Validate() error {
	if c.Verbosity < 0 || c.Verbosity > 3 {
		return &ValidationError{Reason: fmt.Sprintf("verbosity must be between 0 and 3, got %d", c.Verbosity)}
	}
	if c.Timeout <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("timeout must be positive, got %s", c.Timeout)}
	}
	if c.Format != "json" && c.Format != "table" {
		return &ValidationError{Reason: fmt.Sprintf("format must be json or table, got %q", c.Format)}
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel translates the configured log level for slog. Validate must have passed.
func (c Config) SlogLevel() slog.Level {
	level, _ := c.slogLevel()
	return level
}

func (c Config) slogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &ValidationError{Reason: fmt.Sprintf("log level must be debug, info, warn, or error, got %q", c.LogLevel)}
	}
}

// ResolveAuth produces the request headers for a network endpoint. Precedence: an
// explicit AuthHeader, then APIKey (which LoadConfig may have filled from
// MCPEEK_API_KEY), then a host-specific MCPEEK_<HOST>_KEY variable derived from the
// endpoint's hostname. Bare tokens become Authorization bearer headers; a token already
// carrying a scheme is passed through untouched. No credential source resolves to no
// headers.
func (c Config) ResolveAuth(rawURL string) (map[string]string, error) {
	if c.AuthHeader != "" {
		name, value, ok := strings.Cut(c.AuthHeader, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, &ValidationError{Reason: `auth header must have the form "Name: value"`}
		}
		return map[string]string{strings.TrimSpace(name): strings.TrimSpace(value)}, nil
	}

	key := c.APIKey
	if key == "" {
		key = hostKeyFromEnv(rawURL)
	}
	if key == "" {
		return nil, nil
	}

	return map[string]string{"Authorization": bearerValue(key)}, nil
}

// hostKeyFromEnv looks up a per-host credential: MCPEEK_<HOST>_KEY, where HOST is the
// endpoint's hostname uppercased with dots and dashes folded to underscores.
func hostKeyFromEnv(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	host := strings.ToUpper(u.Hostname())
	host = strings.NewReplacer(".", "_", "-", "_").Replace(host)

	return os.Getenv("MCPEEK_" + host + "_KEY")
}

func bearerValue(token string) string {
	if strings.Contains(token, " ") {
		return token
	}
	return "Bearer " + token
}

// Redact masks a secret for logging, keeping only its length recognizable.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
