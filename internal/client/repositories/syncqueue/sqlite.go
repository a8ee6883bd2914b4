package syncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
)

const columns = `id, action, payload, enqueued_at, synced, synced_at, attempts, last_error`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Add(ctx context.Context, action models.Action, payload []byte, at time.Time) (int64, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("unknown queue action %q", action)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_queue (action, payload, enqueued_at, synced) VALUES (?, ?, ?, 0)`,
		string(action), string(payload), at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s: %w", action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM sync_queue `+where+` ORDER BY enqueued_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error selecting queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var (
			it       models.QueueItem
			action   string
			payload  string
			enqueued int64
			synced   int
			syncedAt sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &action, &payload, &enqueued, &synced, &syncedAt, &it.Attempts, &it.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		it.Action = models.Action(action)
		it.Payload = []byte(payload)
		it.EnqueuedAt = time.UnixMilli(enqueued).UTC()
		it.Synced = synced != 0
		if syncedAt.Valid {
			ts := time.UnixMilli(syncedAt.Int64).UTC()
			it.SyncedAt = &ts
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.QueueItem, error) {
	return r.list(ctx, "")
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]models.QueueItem, error) {
	return r.list(ctx, "WHERE synced = 0")
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET synced = 1, synced_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %d synced: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, id int64, msg string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to record failure of item %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) ClearSynced(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear synced items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}
