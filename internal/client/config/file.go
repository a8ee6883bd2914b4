package config

import (
	"time"

	"github.com/dmitrijs2005/bitacora/internal/flagx"
	"github.com/dmitrijs2005/bitacora/internal/timex"
)

// fileConfig is the DTO decoded from the config file. Pointer fields tell
// "absent" apart from an explicit zero.
type fileConfig struct {
	DBPath           *string         `json:"db_path" yaml:"db_path"`
	Remote           *string         `json:"remote" yaml:"remote"`
	RemoteTimeout    *timex.Duration `json:"remote_timeout" yaml:"remote_timeout"`
	ProbeTargets     []string        `json:"probe_targets" yaml:"probe_targets"`
	PrimaryTimeout   *timex.Duration `json:"primary_timeout" yaml:"primary_timeout"`
	SecondaryTimeout *timex.Duration `json:"secondary_timeout" yaml:"secondary_timeout"`
	PollInterval     *timex.Duration `json:"poll_interval" yaml:"poll_interval"`
	FilesURL         *string         `json:"files_url" yaml:"files_url"`
	EmailEndpoint    *string         `json:"email_endpoint" yaml:"email_endpoint"`
	EmailAPIKey      *string         `json:"email_api_key" yaml:"email_api_key"`
	EmailFrom        *string         `json:"email_from" yaml:"email_from"`
	EmailRecipients  []string        `json:"email_recipients" yaml:"email_recipients"`
	JWTSecret        *string         `json:"jwt_secret" yaml:"jwt_secret"`
	LogLevel         *string         `json:"log_level" yaml:"log_level"`
	LogFormat        *string         `json:"log_format" yaml:"log_format"`
	PruneSynced      *bool           `json:"prune_synced" yaml:"prune_synced"`
	RetryAttempts    *int            `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelay   *timex.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
}

// loadFile overlays cfg with the keys present in the file at path.
func loadFile(cfg *Config, path string) error {
	var fc fileConfig
	if err := flagx.DecodeFile(path, &fc); err != nil {
		return err
	}

	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.Remote, fc.Remote)
	setDuration(&cfg.RemoteTimeout, fc.RemoteTimeout)
	if fc.ProbeTargets != nil {
		cfg.ProbeTargets = fc.ProbeTargets
	}
	setDuration(&cfg.PrimaryTimeout, fc.PrimaryTimeout)
	setDuration(&cfg.SecondaryTimeout, fc.SecondaryTimeout)
	setDuration(&cfg.PollInterval, fc.PollInterval)
	setString(&cfg.FilesURL, fc.FilesURL)
	setString(&cfg.EmailEndpoint, fc.EmailEndpoint)
	setString(&cfg.EmailAPIKey, fc.EmailAPIKey)
	setString(&cfg.EmailFrom, fc.EmailFrom)
	if fc.EmailRecipients != nil {
		cfg.EmailRecipients = fc.EmailRecipients
	}
	setString(&cfg.JWTSecret, fc.JWTSecret)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	if fc.PruneSynced != nil {
		cfg.PruneSynced = *fc.PruneSynced
	}
	if fc.RetryAttempts != nil {
		cfg.RetryAttempts = *fc.RetryAttempts
	}
	setDuration(&cfg.RetryBaseDelay, fc.RetryBaseDelay)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
