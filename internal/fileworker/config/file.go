package config

import (
	"github.com/dmitrijs2005/bitacora/internal/flagx"
	"github.com/dmitrijs2005/bitacora/internal/timex"
)

// fileConfig is the on-disk shape. Absent keys leave the defaults alone.
type fileConfig struct {
	HTTPAddr        *string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr        *string         `json:"grpc_addr" yaml:"grpc_addr"`
	PublicURL       *string         `json:"public_url" yaml:"public_url"`
	MaxUploadBytes  *int64          `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	Storage         *string         `json:"storage" yaml:"storage"`
	S3AccessKey     *string         `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey     *string         `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Bucket        *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region        *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint  *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	ShutdownTimeout *timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel        *string         `json:"log_level" yaml:"log_level"`
	LogFormat       *string         `json:"log_format" yaml:"log_format"`
}

// parseFile overlays the file named by -c/-config, if any.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	var fc fileConfig
	if err := flagx.DecodeFile(path, &fc); err != nil {
		return err
	}

	set(&cfg.HTTPAddr, fc.HTTPAddr)
	set(&cfg.GRPCAddr, fc.GRPCAddr)
	set(&cfg.PublicURL, fc.PublicURL)
	set(&cfg.MaxUploadBytes, fc.MaxUploadBytes)
	set(&cfg.Storage, fc.Storage)
	set(&cfg.S3AccessKey, fc.S3AccessKey)
	set(&cfg.S3SecretKey, fc.S3SecretKey)
	set(&cfg.S3Bucket, fc.S3Bucket)
	set(&cfg.S3Region, fc.S3Region)
	set(&cfg.S3BaseEndpoint, fc.S3BaseEndpoint)
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.LogFormat, fc.LogFormat)
	if fc.ShutdownTimeout != nil {
		cfg.ShutdownTimeout = fc.ShutdownTimeout.Duration
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
