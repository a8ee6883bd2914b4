package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Flag names.
const (
	FlagConfig           = "config"
	FlagDB               = "db"
	FlagRemote           = "remote"
	FlagRemoteTimeout    = "remote-timeout"
	FlagProbe            = "probe"
	FlagPrimaryTimeout   = "probe-timeout"
	FlagSecondaryTimeout = "fallback-timeout"
	FlagPollInterval     = "poll-interval"
	FlagFilesURL         = "files-url"
	FlagEmailEndpoint    = "email-endpoint"
	FlagEmailAPIKey      = "email-key"
	FlagEmailFrom        = "email-from"
	FlagNotify           = "notify"
	FlagJWTSecret        = "jwt-secret"
	FlagLogLevel         = "log-level"
	FlagLogFormat        = "log-format"
	FlagPrune            = "prune"
	FlagRetryAttempts    = "retry-attempts"
	FlagRetryDelay       = "retry-delay"
)

// RegisterFlags defines the client flags on fs, usually the root command's
// persistent flag set. Defaults shown in help come from LoadDefaults.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to config file (.json, .yaml or .yml)")
	fs.String(FlagDB, d.DBPath, "local SQLite database file")
	fs.String(FlagRemote, d.Remote, `remote store: postgres DSN, "memory", or "" for local-only`)
	fs.Duration(FlagRemoteTimeout, d.RemoteTimeout, "timeout for a single remote call")
	fs.StringSlice(FlagProbe, d.ProbeTargets, "connectivity probe targets (http(s)://, grpc://, static:online|offline)")
	fs.Duration(FlagPrimaryTimeout, d.PrimaryTimeout, "timeout of the first probe target")
	fs.Duration(FlagSecondaryTimeout, d.SecondaryTimeout, "timeout of the fallback probe targets")
	fs.Duration(FlagPollInterval, d.PollInterval, "connectivity polling interval")
	fs.String(FlagFilesURL, d.FilesURL, "file worker base URL; empty disables attachment uploads")
	fs.String(FlagEmailEndpoint, d.EmailEndpoint, "email API endpoint; empty disables notifications")
	fs.String(FlagEmailAPIKey, d.EmailAPIKey, "email API bearer key")
	fs.String(FlagEmailFrom, d.EmailFrom, "sender address for notifications")
	fs.StringSlice(FlagNotify, d.EmailRecipients, "notification recipients")
	fs.String(FlagJWTSecret, d.JWTSecret, "HS256 secret used to verify access tokens")
	fs.String(FlagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	fs.String(FlagLogFormat, d.LogFormat, "log format: text or json")
	fs.Bool(FlagPrune, d.PruneSynced, "delete synced queue items after each sync")
	fs.Int(FlagRetryAttempts, d.RetryAttempts, "attempts per remote write, first one included")
	fs.Duration(FlagRetryDelay, d.RetryBaseDelay, "first retry delay, doubled on each attempt")
}

// applyFlags copies into cfg the flags the user set explicitly.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagDB:            &cfg.DBPath,
		FlagRemote:        &cfg.Remote,
		FlagFilesURL:      &cfg.FilesURL,
		FlagEmailEndpoint: &cfg.EmailEndpoint,
		FlagEmailAPIKey:   &cfg.EmailAPIKey,
		FlagEmailFrom:     &cfg.EmailFrom,
		FlagJWTSecret:     &cfg.JWTSecret,
		FlagLogLevel:      &cfg.LogLevel,
		FlagLogFormat:     &cfg.LogFormat,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
	}

	durs := map[string]*time.Duration{
		FlagRemoteTimeout:    &cfg.RemoteTimeout,
		FlagPrimaryTimeout:   &cfg.PrimaryTimeout,
		FlagSecondaryTimeout: &cfg.SecondaryTimeout,
		FlagPollInterval:     &cfg.PollInterval,
		FlagRetryDelay:       &cfg.RetryBaseDelay,
	}
	for name, dst := range durs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetDuration(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
	}

	lists := map[string]*[]string{
		FlagProbe:  &cfg.ProbeTargets,
		FlagNotify: &cfg.EmailRecipients,
	}
	for name, dst := range lists {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetStringSlice(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
	}

	if fs.Changed(FlagPrune) {
		v, err := fs.GetBool(FlagPrune)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", FlagPrune, err)
		}
		cfg.PruneSynced = v
	}
	if fs.Changed(FlagRetryAttempts) {
		v, err := fs.GetInt(FlagRetryAttempts)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", FlagRetryAttempts, err)
		}
		cfg.RetryAttempts = v
	}
	return nil
}

// Load builds a Config from defaults, the optional config file named by
// --config and finally the flags set on fs. fs must already be parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return nil, fmt.Errorf("flag --%s: %w", FlagConfig, err)
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyFlags(cfg, fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
