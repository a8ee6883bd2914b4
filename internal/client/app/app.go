// Package app wires the client together and owns the session: it opens the
// local store, connects the remote store, runs the connectivity monitor and
// reacts to its transitions by replaying the queue and reloading entries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/bitacora/internal/client/appstate"
	"github.com/dmitrijs2005/bitacora/internal/client/config"
	"github.com/dmitrijs2005/bitacora/internal/client/connectivity"
	"github.com/dmitrijs2005/bitacora/internal/client/files"
	"github.com/dmitrijs2005/bitacora/internal/client/folio"
	"github.com/dmitrijs2005/bitacora/internal/client/localstore"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/client/notify"
	"github.com/dmitrijs2005/bitacora/internal/client/services"
	"github.com/dmitrijs2005/bitacora/internal/client/syncer"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

type Option func(*App)

func WithLogger(l logging.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithProber replaces the prober built from the configured targets.
func WithProber(p connectivity.Prober) Option {
	return func(a *App) { a.prober = p }
}

// WithRemote replaces the remote store selected by the configuration.
func WithRemote(rs remote.Store) Option {
	return func(a *App) { a.remote = rs }
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// App is one client session.
type App struct {
	cfg      *config.Config
	log      logging.Logger
	registry *prometheus.Registry
	prober   connectivity.Prober
	remote   remote.Store
	remoteDB *sql.DB

	Local   *localstore.Store
	Monitor *connectivity.Monitor
	State   *appstate.State
	Folio   *folio.Generator
	Syncer  *syncer.Manager
	Entries services.EntryService
	Auth    services.AuthService
	Metrics *metrics.Sync

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	reloaded chan struct{}
}

// New builds a session from cfg. A local store that cannot be opened does
// not fail New: the session starts in degraded mode and keeps serving what
// it has in memory.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      logging.Discard(),
		reloaded: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.Metrics = metrics.NewSync(a.registry)

	if a.prober == nil {
		p, err := buildProber(cfg)
		if err != nil {
			return nil, err
		}
		a.prober = p
	}

	if a.remote == nil && cfg.RemoteEnabled() {
		rs, db, err := openRemote(cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.remote, a.remoteDB = rs, db
	}

	a.Monitor = connectivity.NewMonitor(a.prober,
		connectivity.WithLogger(a.log), connectivity.WithMetrics(a.Metrics))
	a.State = appstate.New(a.Monitor)

	a.Local = localstore.New(cfg.DBPath, localstore.WithLogger(a.log))
	if err := a.Local.Init(ctx); err != nil {
		a.log.Error(ctx, "local store unavailable, running degraded", "error", err)
		a.State.SetDegraded(err)
	}

	policy := cfg.RetryPolicy()

	var rfolio folio.RemoteSource
	if a.remote != nil {
		rfolio = a.remote
	}
	a.Folio = folio.New(rfolio, a.Local, a.State, folio.WithLogger(a.log))

	a.Syncer = syncer.New(a.Local, a.remote, a.State,
		syncer.WithLogger(a.log),
		syncer.WithMetrics(a.Metrics),
		syncer.WithPolicy(policy),
		syncer.WithPrune(cfg.PruneSynced),
	)

	deps := services.EntryDeps{
		Local:  a.Local,
		Remote: a.remote,
		State:  a.State,
		Folio:  a.Folio,
	}
	if cfg.FilesURL != "" {
		deps.Files = files.New(cfg.FilesURL, files.WithPolicy(policy), files.WithLogger(a.log))
	}
	eopts := []services.EntryOption{
		services.WithLogger(a.log),
		services.WithMetrics(a.Metrics),
		services.WithPolicy(policy),
	}
	if cfg.EmailEndpoint != "" && len(cfg.EmailRecipients) > 0 {
		eopts = append(eopts, services.WithNotifier(
			notify.New(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom), cfg.EmailRecipients))
	}
	a.Entries = services.NewEntryService(deps, eopts...)
	a.Auth = services.NewAuthService(a.Local, a.remote, a.State, []byte(cfg.JWTSecret))

	return a, nil
}

func buildProber(cfg *config.Config) (connectivity.Prober, error) {
	if !cfg.RemoteEnabled() {
		return connectivity.StaticProber(false), nil
	}
	targets := make([]connectivity.Target, 0, len(cfg.ProbeTargets))
	for i, u := range cfg.ProbeTargets {
		timeout := cfg.SecondaryTimeout
		if i == 0 {
			timeout = cfg.PrimaryTimeout
		}
		targets = append(targets, connectivity.Target{URL: u, Timeout: timeout})
	}
	p, err := connectivity.NewProber(targets)
	if err != nil {
		return nil, fmt.Errorf("connectivity config error: %w", err)
	}
	return p, nil
}

func openRemote(cfg *config.Config, log logging.Logger) (remote.Store, *sql.DB, error) {
	if cfg.Remote == config.RemoteMemory {
		return remote.NewMemoryStore(), nil, nil
	}
	db, err := remote.Open(cfg.Remote)
	if err != nil {
		return nil, nil, err
	}
	rs := remote.NewPostgresStore(db, remote.WithTimeout(cfg.RemoteTimeout), remote.WithLogger(log))
	return rs, db, nil
}

// RemoteDB is the remote *sql.DB, nil unless the remote is Postgres.
func (a *App) RemoteDB() *sql.DB {
	return a.remoteDB
}

// Registry holds the session's collectors.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Start restores the session, subscribes to connectivity transitions and
// starts polling. It returns once the handler and the poller are running.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.restore(ctx)

	events, unsubscribe := a.Monitor.Subscribe(8)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case tr, ok := <-events:
				if !ok {
					return
				}
				a.HandleTransition(ctx, tr)
			}
		}
	}()
	go func() {
		defer a.wg.Done()
		a.Monitor.Run(ctx, a.cfg.PollInterval)
	}()
}

// Connect restores the session and runs a single probe, handling its
// transition before returning. One-shot commands use it instead of Start.
func (a *App) Connect(ctx context.Context) connectivity.State {
	a.restore(ctx)
	st, ran := a.Monitor.Check(ctx)
	if ran {
		a.HandleTransition(ctx, connectivity.Transition{To: st.Online, At: st.CheckedAt, Initial: true})
	}
	return st
}

func (a *App) restore(ctx context.Context) {
	if _, err := a.Auth.Restore(ctx); err != nil && !errors.Is(err, common.ErrNotLoggedIn) {
		a.log.Warn(ctx, "session not restored", "error", err)
	}
}

// HandleTransition reacts to a connectivity change. Going online replays
// the queue and then reloads from the remote store; going offline reloads
// the last known state from the local store.
func (a *App) HandleTransition(ctx context.Context, tr connectivity.Transition) {
	if tr.To {
		a.log.Info(ctx, "online, replaying queue")
		res, err := a.Syncer.Sync(ctx)
		if err != nil {
			a.log.Warn(ctx, "sync aborted", "error", err)
		} else if res.Ran {
			a.log.Info(ctx, "sync finished",
				"synced", res.Synced, "failed", res.Failed, "held", res.Held, "skipped", res.Skipped)
		}
	} else {
		a.log.Info(ctx, "offline mode, serving local data")
	}

	if _, source, err := a.Entries.LoadEntries(ctx, models.EntryFilter{}); err != nil {
		a.log.Warn(ctx, "reload failed", "error", err)
	} else {
		a.log.Debug(ctx, "entries reloaded", "source", source)
	}

	select {
	case a.reloaded <- struct{}{}:
	default:
	}
}

// Reloaded signals after every handled transition. Only the latest signal
// is kept.
func (a *App) Reloaded() <-chan struct{} {
	return a.reloaded
}

// Status is a snapshot for the status command and the prompt.
type Status struct {
	Connectivity connectivity.State
	User         *models.User
	Pending      int
	Source       string
	Degraded     error
	RemoteMode   string
}

func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Connectivity: a.Monitor.State(),
		Degraded:     a.State.Degraded(),
		RemoteMode:   a.remoteMode(),
	}
	if u, ok := a.State.User(); ok {
		st.User = &u
	}
	if n, err := a.Local.PendingQueueCount(ctx); err == nil {
		st.Pending = n
	}
	_, st.Source = a.State.Entries()
	return st
}

func (a *App) remoteMode() string {
	switch {
	case a.remote == nil:
		return "disabled"
	case a.remoteDB != nil:
		return "postgres"
	default:
		return config.RemoteMemory
	}
}

// Close stops the background goroutines, waits for pending notifications
// and releases the stores.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.log.Warn(context.Background(), "background tasks did not stop in time")
	}
	a.Entries.Wait()

	var errs []error
	if err := a.Local.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.remoteDB != nil {
		if err := a.remoteDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
