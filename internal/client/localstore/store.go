// Package localstore is the durable local side of the offline-first client:
// cached entries, the pending-operations queue and a small metadata table,
// all in one SQLite file that survives restarts.
//
// Every failure of the underlying database is reported wrapped in
// common.ErrStorage so callers can switch to degraded mode.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/client/repositories/entries"
	"github.com/dmitrijs2005/bitacora/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/bitacora/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
	"github.com/dmitrijs2005/bitacora/internal/logging"
)

var errNotOpen = errors.New("local store is not initialised")

type Option func(*Store)

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock replaces time.Now for enqueue and sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	dsn string
	log logging.Logger
	now func() time.Time

	mu      sync.Mutex
	db      *sql.DB
	entries entries.Repository
	queue   syncqueue.Repository
	meta    metadata.Repository
}

func New(dsn string, opts ...Option) *Store {
	s := &Store{dsn: dsn, log: logging.Discard(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "localstore")
	return s
}

// Init opens and migrates the database. Calling it again once open is a
// no-op.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := InitDatabase(ctx, s.dsn, s.log)
	if err != nil {
		return common.Storage(err)
	}

	s.db = db
	s.entries = entries.NewSQLiteRepository(db)
	s.queue = syncqueue.NewSQLiteRepository(db)
	s.meta = metadata.NewSQLiteRepository(db)
	s.log.Debug(ctx, "local store ready", "dsn", s.dsn)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type repos struct {
	db      *sql.DB
	entries entries.Repository
	queue   syncqueue.Repository
	meta    metadata.Repository
}

func (s *Store) repos() (repos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return repos{}, common.Storage(errNotOpen)
	}
	return repos{db: s.db, entries: s.entries, queue: s.queue, meta: s.meta}, nil
}

// SaveEntry upserts by id and returns the row as stored. UpdatedAt is
// stamped when the caller left it empty.
func (s *Store) SaveEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	r, err := s.repos()
	if err != nil {
		return models.Entry{}, err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}
	if err := r.entries.Upsert(ctx, &e); err != nil {
		return models.Entry{}, common.Storage(err)
	}
	stored, err := r.entries.GetByID(ctx, e.ID)
	if err != nil {
		return models.Entry{}, common.Storage(err)
	}
	return *stored, nil
}

// MirrorEntry writes a record received from the remote store unless the
// local copy is more recent.
func (s *Store) MirrorEntry(ctx context.Context, e models.Entry) (bool, error) {
	r, err := s.repos()
	if err != nil {
		return false, err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}
	ok, err := r.entries.UpsertIfNewer(ctx, &e)
	if err != nil {
		return false, common.Storage(err)
	}
	if !ok {
		s.log.Debug(ctx, "stale mirror ignored", "id", e.ID)
	}
	return ok, nil
}

// GetAllEntries returns every cached entry, newest first.
func (s *Store) GetAllEntries(ctx context.Context) ([]models.Entry, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	list, err := r.entries.GetAll(ctx)
	if err != nil {
		return nil, common.Storage(err)
	}
	return list, nil
}

// GetPendingEntries returns entries created or edited offline and not yet
// confirmed by the remote store.
func (s *Store) GetPendingEntries(ctx context.Context) ([]models.Entry, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	list, err := r.entries.GetAllPending(ctx)
	if err != nil {
		return nil, common.Storage(err)
	}
	return list, nil
}

// GetEntryByID reports ok=false when the id is not cached.
func (s *Store) GetEntryByID(ctx context.Context, id string) (models.Entry, bool, error) {
	r, err := s.repos()
	if err != nil {
		return models.Entry{}, false, err
	}
	e, err := r.entries.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, common.Storage(err)
	}
	return *e, true, nil
}

// DeleteEntry is idempotent.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	if err := r.entries.DeleteByID(ctx, id); err != nil {
		return common.Storage(err)
	}
	return nil
}

// ReplaceEntryID swaps a temporary row for the record the remote store
// assigned, in one transaction.
func (s *Store) ReplaceEntryID(ctx context.Context, oldID string, e models.Entry) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		if oldID != e.ID {
			if err := repo.DeleteByID(ctx, oldID); err != nil {
				return err
			}
		}
		return repo.Upsert(ctx, &e)
	})
	if err != nil {
		return common.Storage(err)
	}
	return nil
}

// MaxFolio returns the highest numeric folio cached locally.
func (s *Store) MaxFolio(ctx context.Context, pendingOnly bool) (int, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	n, err := r.entries.MaxFolio(ctx, pendingOnly)
	if err != nil {
		return 0, common.Storage(err)
	}
	return n, nil
}

func encodePayload(data any) ([]byte, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue payload: %w", err)
	}
	return b, nil
}

// AddToQueue appends an unsynced item carrying data as JSON and returns its
// sequence id.
func (s *Store) AddToQueue(ctx context.Context, action models.Action, data any) (int64, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	payload, err := encodePayload(data)
	if err != nil {
		return 0, err
	}
	id, err := r.queue.Add(ctx, action, payload, s.now())
	if err != nil {
		return 0, common.Storage(err)
	}
	s.log.Debug(ctx, "queued", "item", id, "action", action)
	return id, nil
}

// CommitOffline persists an offline mutation and its queue item in one
// transaction: the entry is upserted (or removed for a delete) and the item
// appended. Either both facts are durable or neither is.
func (s *Store) CommitOffline(ctx context.Context, action models.Action, e models.Entry) (models.Entry, int64, error) {
	r, err := s.repos()
	if err != nil {
		return models.Entry{}, 0, err
	}

	var payload any = e
	if action == models.ActionDelete {
		payload = models.DeletePayload{ID: e.ID}
	} else if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
		payload = e
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return models.Entry{}, 0, err
	}

	var itemID int64
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		er := entries.NewSQLiteRepository(tx)
		if action == models.ActionDelete {
			if err := er.DeleteByID(ctx, e.ID); err != nil {
				return err
			}
		} else if err := er.Upsert(ctx, &e); err != nil {
			return err
		}
		id, err := syncqueue.NewSQLiteRepository(tx).Add(ctx, action, raw, s.now())
		itemID = id
		return err
	})
	if err != nil {
		return models.Entry{}, 0, common.Storage(err)
	}
	s.log.Debug(ctx, "offline mutation stored", "item", itemID, "action", action, "id", e.ID)
	return e, itemID, nil
}

// GetQueueItems returns every queue item in enqueue order.
func (s *Store) GetQueueItems(ctx context.Context) ([]models.QueueItem, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	items, err := r.queue.List(ctx)
	if err != nil {
		return nil, common.Storage(err)
	}
	return items, nil
}

// GetPendingQueueItems returns unsynced items in enqueue order.
func (s *Store) GetPendingQueueItems(ctx context.Context) ([]models.QueueItem, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	items, err := r.queue.ListPending(ctx)
	if err != nil {
		return nil, common.Storage(err)
	}
	return items, nil
}

// MarkQueueItemAsSynced is a no-op for an id that no longer exists.
func (s *Store) MarkQueueItemAsSynced(ctx context.Context, id int64) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	if err := r.queue.MarkSynced(ctx, id, s.now()); err != nil {
		return common.Storage(err)
	}
	return nil
}

func (s *Store) RecordQueueFailure(ctx context.Context, id int64, cause error) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.queue.RecordFailure(ctx, id, msg); err != nil {
		return common.Storage(err)
	}
	return nil
}

func (s *Store) ClearSyncedQueueItems(ctx context.Context) (int64, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	n, err := r.queue.ClearSynced(ctx)
	if err != nil {
		return 0, common.Storage(err)
	}
	return n, nil
}

func (s *Store) PendingQueueCount(ctx context.Context) (int, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	n, err := r.queue.CountPending(ctx)
	if err != nil {
		return 0, common.Storage(err)
	}
	return n, nil
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	r, err := s.repos()
	if err != nil {
		return "", false, err
	}
	v, ok, err := r.meta.Get(ctx, key)
	if err != nil {
		return "", false, common.Storage(err)
	}
	return v, ok, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	if err := r.meta.Set(ctx, key, value); err != nil {
		return common.Storage(err)
	}
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	if err := r.meta.Delete(ctx, key); err != nil {
		return common.Storage(err)
	}
	return nil
}
