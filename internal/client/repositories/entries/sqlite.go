package entries

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
)

const columns = `id, client_id, folio, titulo, descripcion, fecha, hora_inicio, hora_final,
	tipo_nota, ubicacion, archivos, user_id, is_offline, updated_at`

const upsertQuery = `INSERT INTO entries (` + columns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		client_id = excluded.client_id,
		folio = CASE WHEN entries.folio = '' THEN excluded.folio ELSE entries.folio END,
		titulo = excluded.titulo,
		descripcion = excluded.descripcion,
		fecha = excluded.fecha,
		hora_inicio = excluded.hora_inicio,
		hora_final = excluded.hora_final,
		tipo_nota = excluded.tipo_nota,
		ubicacion = excluded.ubicacion,
		archivos = excluded.archivos,
		user_id = excluded.user_id,
		is_offline = excluded.is_offline,
		updated_at = excluded.updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) args(e *models.Entry) ([]any, error) {
	archivos, err := models.EncodeAttachments(e.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	offline := 0
	if e.IsOffline {
		offline = 1
	}
	var updated int64
	if !e.UpdatedAt.IsZero() {
		updated = e.UpdatedAt.UnixMilli()
	}
	return []any{e.ID, e.ClientID, e.Folio, e.Title, e.Description, e.Date, e.StartTime, e.EndTime,
		e.Category, e.Location, archivos, e.UserID, offline, updated}, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Entry) error {
	args, err := r.args(e)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertQuery, args...); err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertIfNewer(ctx context.Context, e *models.Entry) (bool, error) {
	args, err := r.args(e)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, upsertQuery+` WHERE excluded.updated_at >= entries.updated_at`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mirror entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.Entry, error) {
	var (
		e        models.Entry
		archivos string
		offline  int
		updated  int64
	)
	err := s.Scan(&e.ID, &e.ClientID, &e.Folio, &e.Title, &e.Description, &e.Date, &e.StartTime, &e.EndTime,
		&e.Category, &e.Location, &archivos, &e.UserID, &offline, &updated)
	if err != nil {
		return models.Entry{}, err
	}
	e.Attachments = models.ParseAttachments(archivos)
	e.IsOffline = offline != 0
	if updated > 0 {
		e.UpdatedAt = time.UnixMilli(updated).UTC()
	}
	return e, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string) ([]models.Entry, error) {
	query := `SELECT ` + columns + ` FROM entries ` + where + ` ORDER BY fecha DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Entry, error) {
	return r.list(ctx, "")
}

func (r *SQLiteRepository) GetAllPending(ctx context.Context) ([]models.Entry, error) {
	return r.list(ctx, "WHERE is_offline = 1")
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if dbx.IsNoRows(err) {
		return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// MaxFolio parses folios in Go; legacy rows may hold non-numeric values
// which are skipped.
func (r *SQLiteRepository) MaxFolio(ctx context.Context, pendingOnly bool) (int, error) {
	query := `SELECT folio FROM entries WHERE folio <> ''`
	if pendingOnly {
		query += ` AND is_offline = 1`
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to select folios: %w", err)
	}
	defer rows.Close()

	maxFolio := 0
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return 0, err
		}
		if n, err := strconv.Atoi(strings.TrimSpace(f)); err == nil && n > maxFolio {
			maxFolio = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return maxFolio, nil
}
