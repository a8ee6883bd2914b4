// Package fileworker runs the attachment worker: the HTTP API storing entry
// files in S3-compatible storage and the gRPC health service clients probe.
package fileworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/bitacora/internal/fileworker/config"
	gs "github.com/dmitrijs2005/bitacora/internal/fileworker/grpc"
	"github.com/dmitrijs2005/bitacora/internal/fileworker/httpapi"
	"github.com/dmitrijs2005/bitacora/internal/fileworker/storage"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
)

const healthInterval = 5 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    storage.Store
	registry *prometheus.Registry
	handler  *httpapi.Handler
}

// NewApp wires storage, metrics and the HTTP handler from c.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var (
		store storage.Store
		err   error
	)
	switch c.Storage {
	case config.StorageMemory:
		store = storage.NewMemoryStore()
	default:
		store, err = storage.NewS3Store(ctx, storage.S3Options{
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("storage init error: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := httpapi.NewHandler(store, c.BaseURL(), c.MaxUploadBytes,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics.NewFileWorker(reg), reg),
	)

	return &App{config: c, logger: logger, store: store, registry: reg, handler: h}, nil
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.GRPCAddr, app.store, healthInterval, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx ends or one of the servers fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting file worker...", "storage", app.config.Storage)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.GRPCAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()
}
