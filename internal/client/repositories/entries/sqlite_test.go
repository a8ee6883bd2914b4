package entries

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE entries (
  id TEXT PRIMARY KEY,
  client_id TEXT NOT NULL DEFAULT '',
  folio TEXT NOT NULL DEFAULT '',
  titulo TEXT NOT NULL DEFAULT '',
  descripcion TEXT NOT NULL DEFAULT '',
  fecha TEXT,
  hora_inicio TEXT NOT NULL DEFAULT '',
  hora_final TEXT NOT NULL DEFAULT '',
  tipo_nota TEXT NOT NULL DEFAULT '',
  ubicacion TEXT NOT NULL DEFAULT '',
  archivos TEXT NOT NULL DEFAULT '[]',
  user_id TEXT NOT NULL DEFAULT '',
  is_offline INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL DEFAULT 0
);`)
	require.NoError(t, err)
	return db
}

func entry(id, fecha string) *models.Entry {
	return &models.Entry{
		ID:        id,
		Folio:     "0001",
		Title:     "t-" + id,
		Date:      models.MustLocalDateTime(fecha),
		UpdatedAt: time.UnixMilli(1000).UTC(),
	}
}

func TestUpsert_InsertThenOverwrite(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e := entry("a", "2025-01-10T08:00")
	e.Attachments = []models.Attachment{{URL: "https://f/a.jpg", Name: "a.jpg"}}
	e.IsOffline = true
	require.NoError(t, r.Upsert(ctx, e))

	got, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "t-a", got.Title)
	assert.True(t, got.IsOffline)
	assert.Equal(t, e.Attachments, got.Attachments)
	assert.Equal(t, "2025-01-10T08:00", got.Date.String())

	e.Title = "changed"
	e.Folio = "9999"
	e.IsOffline = false
	require.NoError(t, r.Upsert(ctx, e))

	got, err = r.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.Equal(t, "0001", got.Folio) // folio is assigned once
	assert.False(t, got.IsOffline)
}

func TestUpsertIfNewer_LastWriteWins(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e := entry("a", "2025-01-10T08:00")
	e.UpdatedAt = time.UnixMilli(2000)
	ok, err := r.UpsertIfNewer(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := entry("a", "2025-01-10T08:00")
	stale.Title = "stale"
	stale.UpdatedAt = time.UnixMilli(1500)
	ok, err = r.UpsertIfNewer(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "t-a", got.Title)

	fresh := entry("a", "2025-01-10T08:00")
	fresh.Title = "fresh"
	fresh.UpdatedAt = time.UnixMilli(3000)
	ok, err = r.UpsertIfNewer(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetAll_OrderedByDateDesc(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, entry("old", "2024-12-31T23:59")))
	require.NoError(t, r.Upsert(ctx, entry("new", "2025-01-10T08:00")))
	require.NoError(t, r.Upsert(ctx, entry("mid", "2025-01-05T12:30:15")))

	got, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestGetByID_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteByID_Idempotent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, entry("x", "2025-01-10T08:00")))
	require.NoError(t, r.DeleteByID(ctx, "x"))
	require.NoError(t, r.DeleteByID(ctx, "x"))

	_, err := r.GetByID(ctx, "x")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLegacyAttachmentsNormalisedOnRead(t *testing.T) {
	db := setupDB(t)
	_, err := db.Exec(`INSERT INTO entries (id, fecha, archivos) VALUES ('l', '2025-01-10T08:00:00', 'https://f/legacy.jpg')`)
	require.NoError(t, err)

	got, err := NewSQLiteRepository(db).GetByID(context.Background(), "l")
	require.NoError(t, err)
	assert.Equal(t, []models.Attachment{{URL: "https://f/legacy.jpg", Name: "legacy.jpg"}}, got.Attachments)
}

func TestPendingAndMaxFolio(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	n, err := r.MaxFolio(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	synced := entry("s", "2025-01-01T08:00")
	synced.Folio = "0040"
	pending := entry("p", "2025-01-02T08:00")
	pending.Folio = "0012"
	pending.IsOffline = true
	require.NoError(t, r.Upsert(ctx, synced))
	require.NoError(t, r.Upsert(ctx, pending))
	_, err = db.Exec(`INSERT INTO entries (id, folio) VALUES ('junk', 'F-77')`)
	require.NoError(t, err)

	n, err = r.MaxFolio(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	n, err = r.MaxFolio(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	list, err := r.GetAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p", list[0].ID)
}
