// Package config handles configuration for the file worker: defaults, an
// optional JSON or YAML file given with -c/-config, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageS3     = "s3"
	StorageMemory = "memory"
)

// Config holds runtime settings of the file worker.
//
// Fields:
//   - HTTPAddr: bind address of the upload/download HTTP API.
//   - GRPCAddr: bind address of the gRPC health service; empty disables it.
//   - PublicURL: base of the URLs returned by /upload; defaults to the
//     HTTP address.
//   - MaxUploadBytes: largest accepted multipart body.
//   - Storage: StorageS3 or StorageMemory.
//   - S3*: S3-compatible backend settings (MinIO in development).
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PublicURL       string
	MaxUploadBytes  int64
	Storage         string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3BaseEndpoint  string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the S3 credentials match the docker-compose MinIO and must be
// overridden in production.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8081"
	c.GRPCAddr = ":50051"
	c.MaxUploadBytes = 25 << 20
	c.Storage = StorageS3
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "bitacora"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.ShutdownTimeout = 10 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// BaseURL is the prefix of every object URL handed to clients.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	addr := c.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadBytes))
	}
	switch c.Storage {
	case StorageMemory:
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config from args (without the program name) by
// applying defaults, then the optional config file, then flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
