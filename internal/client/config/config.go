package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/retry"
)

// RemoteMemory selects the in-process remote store.
const RemoteMemory = "memory"

// Config holds runtime settings for the bitácora client.
type Config struct {
	DBPath string

	// Remote is a Postgres DSN, RemoteMemory or empty (local-only).
	Remote        string
	RemoteTimeout time.Duration

	// ProbeTargets are tried in order; the first uses PrimaryTimeout, the
	// rest SecondaryTimeout.
	ProbeTargets     []string
	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration
	PollInterval     time.Duration

	FilesURL string

	EmailEndpoint   string
	EmailAPIKey     string
	EmailFrom       string
	EmailRecipients []string

	// JWTSecret verifies access tokens; empty means claims are read
	// unverified.
	JWTSecret string

	LogLevel  string
	LogFormat string

	PruneSynced    bool
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DBPath = "bitacora.db"
	c.Remote = RemoteMemory
	c.RemoteTimeout = 8 * time.Second
	c.ProbeTargets = []string{"https://www.google.com/generate_204", "https://www.cloudflare.com/cdn-cgi/trace"}
	c.PrimaryTimeout = 5 * time.Second
	c.SecondaryTimeout = 3 * time.Second
	c.PollInterval = time.Second
	c.FilesURL = ""
	c.EmailEndpoint = ""
	c.EmailAPIKey = ""
	c.EmailFrom = "bitacora@localhost"
	c.EmailRecipients = nil
	c.JWTSecret = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.PruneSynced = true
	c.RetryAttempts = 2
	c.RetryBaseDelay = 300 * time.Millisecond
}

// RemoteEnabled reports whether a remote store is configured.
func (c *Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.Remote) != ""
}

// RetryPolicy builds the shared retry policy from the retry settings.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryAttempts
	p.BaseDelay = c.RetryBaseDelay
	return p
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.RemoteEnabled() && len(c.ProbeTargets) == 0 {
		errs = append(errs, errors.New("remote configured without probe targets"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryAttempts))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
