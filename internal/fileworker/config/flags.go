package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/bitacora/internal/flagx"
)

var knownFlags = []string{
	"-a", "-g", "-u", "-m", "-s", "-k", "-p", "-b", "-r", "-e", "-t", "-l", "-f",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g. ":8081")
//	-g string     gRPC health bind address, empty disables it
//	-u string     public base URL of returned object URLs
//	-m int        max upload size, MiB
//	-s string     storage backend: s3 or memory
//	-k string     S3 access key
//	-p string     S3 secret key
//	-b string     S3 bucket
//	-r string     S3 region
//	-e string     S3 base endpoint (e.g. "http://127.0.0.1:9000/")
//	-t duration   graceful shutdown timeout
//	-l string     log level
//	-f string     log format: text or json
//
// Unknown arguments (such as -c) are filtered out with flagx.FilterArgs
// before parsing.
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("fileworker", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP address")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "gRPC health address")
	fs.StringVar(&cfg.PublicURL, "u", cfg.PublicURL, "public base URL")
	maxMiB := fs.Int64("m", cfg.MaxUploadBytes>>20, "max upload size (MiB)")
	fs.StringVar(&cfg.Storage, "s", cfg.Storage, "storage backend (s3|memory)")
	fs.StringVar(&cfg.S3AccessKey, "k", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "r", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3 base endpoint")
	fs.DurationVar(&cfg.ShutdownTimeout, "t", cfg.ShutdownTimeout, "shutdown timeout")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format (text|json)")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	setMiB := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "m" {
			setMiB = true
		}
	})
	if setMiB {
		cfg.MaxUploadBytes = *maxMiB << 20
	}
	return nil
}
