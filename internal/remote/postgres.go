package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
	"github.com/dmitrijs2005/bitacora/internal/logging"
)

// DefaultTimeout bounds every remote call; a timeout counts as a
// connectivity failure.
const DefaultTimeout = 8 * time.Second

const entryColumns = `id::text, COALESCE(client_id, ''), folio, titulo, descripcion, fecha,
	hora_inicio, hora_final, tipo_nota, ubicacion, archivos::text, COALESCE(user_id::text, ''), updated_at`

type PostgresOption func(*PostgresStore)

func WithTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l logging.Logger) PostgresOption {
	return func(s *PostgresStore) { s.log = l }
}

// WithIDGenerator replaces uuid.NewString for new rows.
func WithIDGenerator(f func() string) PostgresOption {
	return func(s *PostgresStore) { s.newID = f }
}

// PostgresStore implements Store over database/sql with the pgx driver.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	newID   func() string
	log     logging.Logger
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, timeout: DefaultTimeout, newID: uuid.NewString, log: logging.Discard()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "remote")
	return s
}

func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return common.Connectivity(err)
	}
	return nil
}

func scanEntry(sc interface{ Scan(...any) error }) (models.Entry, error) {
	var (
		e        models.Entry
		archivos string
	)
	err := sc.Scan(&e.ID, &e.ClientID, &e.Folio, &e.Title, &e.Description, &e.Date,
		&e.StartTime, &e.EndTime, &e.Category, &e.Location, &archivos, &e.UserID, &e.UpdatedAt)
	if err != nil {
		return models.Entry{}, err
	}
	e.Attachments = models.ParseAttachments(archivos)
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	archivos, err := models.EncodeAttachments(e.Attachments)
	if err != nil {
		return models.Entry{}, err
	}

	query := `INSERT INTO bitacora (id, client_id, folio, titulo, descripcion, fecha, hora_inicio, hora_final,
			tipo_nota, ubicacion, archivos, user_id)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, NULLIF($12, '')::uuid)
		RETURNING ` + entryColumns

	row := s.db.QueryRowContext(ctx, query, s.newID(), e.ClientID, e.Folio, e.Title, e.Description, e.Date,
		e.StartTime, e.EndTime, e.Category, e.Location, archivos, e.UserID)
	out, err := scanEntry(row)
	if err != nil {
		return models.Entry{}, classify(ctx, "insert", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	archivos, err := models.EncodeAttachments(e.Attachments)
	if err != nil {
		return models.Entry{}, err
	}

	query := `UPDATE bitacora SET titulo = $2, descripcion = $3, fecha = $4, hora_inicio = $5, hora_final = $6,
			tipo_nota = $7, ubicacion = $8, archivos = $9::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING ` + entryColumns

	row := s.db.QueryRowContext(ctx, query, e.ID, e.Title, e.Description, e.Date,
		e.StartTime, e.EndTime, e.Category, e.Location, archivos)
	out, err := scanEntry(row)
	if err != nil {
		return models.Entry{}, classify(ctx, "update", err)
	}
	return out, nil
}

// DeleteEntry succeeds when the row is already gone so that a replayed
// delete is harmless.
func (s *PostgresStore) DeleteEntry(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM bitacora WHERE id = $1`, id); err != nil {
		return classify(ctx, "delete", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDependents(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, q := range []string{
			`DELETE FROM comentarios WHERE bitacora_id = $1`,
			`DELETE FROM bitacora_read WHERE bitacora_id = $1`,
			`DELETE FROM email_logs WHERE bitacora_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(ctx, "delete dependents", err)
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (models.Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM bitacora WHERE id = $1`, id))
	if err != nil {
		return models.Entry{}, classify(ctx, "get", err)
	}
	return e, nil
}

func (s *PostgresStore) FindByClientID(ctx context.Context, clientID string) (models.Entry, bool, error) {
	if clientID == "" {
		return models.Entry{}, false, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM bitacora WHERE client_id = $1`, clientID))
	if dbx.IsNoRows(err) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, classify(ctx, "find", err)
	}
	return e, true, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("fecha >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("fecha <= $%d", f.To)
	}
	if f.Category != "" {
		add("lower(tipo_nota) = lower($%d)", f.Category)
	}
	if f.UserID != "" {
		add("user_id = $%d::uuid", f.UserID)
	}
	if f.Search != "" {
		add("(titulo ILIKE $%[1]d OR descripcion ILIKE $%[1]d OR ubicacion ILIKE $%[1]d OR folio ILIKE $%[1]d)",
			"%"+f.Search+"%")
	}

	query := `SELECT ` + entryColumns + ` FROM bitacora`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY fecha DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, "list", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(ctx, "list", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list", err)
	}
	return result, nil
}

func (s *PostgresStore) MaxFolio(ctx context.Context) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(folio::int), 0) FROM bitacora WHERE folio ~ '^[0-9]+$'`).Scan(&n)
	if err != nil {
		return 0, classify(ctx, "max folio", err)
	}
	return n, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id::text, email, rol FROM profiles WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.Role)
	if err != nil {
		return models.User{}, classify(ctx, "profile", err)
	}
	return u, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	c.ID = s.newID()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO comentarios (id, bitacora_id, user_id, comentario)
		 VALUES ($1, $2, NULLIF($3, '')::uuid, $4) RETURNING created_at`,
		c.ID, c.EntryID, c.UserID, c.Body).Scan(&c.CreatedAt)
	if err != nil {
		return models.Comment{}, classify(ctx, "comment", err)
	}
	return c, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, entryID string) ([]models.Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id::text, bitacora_id::text, COALESCE(user_id::text, ''), comentario, created_at
		 FROM comentarios WHERE bitacora_id = $1 ORDER BY created_at`, entryID)
	if err != nil {
		return nil, classify(ctx, "comments", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.EntryID, &c.UserID, &c.Body, &c.CreatedAt); err != nil {
			return nil, classify(ctx, "comments", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "comments", err)
	}
	return out, nil
}

func (s *PostgresStore) LogNotification(ctx context.Context, entryID, recipient, status string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_logs (bitacora_id, recipient, status) VALUES ($1, $2, $3)`,
		entryID, recipient, status)
	return classify(ctx, "email log", err)
}
