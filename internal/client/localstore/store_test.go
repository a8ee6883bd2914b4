package localstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "bitacora.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(id, fecha string) models.Entry {
	return models.Entry{
		ID:       id,
		Folio:    "0001",
		Title:    "Concreto losa 3",
		Date:     models.MustLocalDateTime(fecha),
		Category: "avance",
	}
}

func TestInit_Idempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Init(context.Background()))
}

func TestInit_ReopenKeepsData(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "b.db")
	ctx := context.Background()

	s := New(dsn)
	require.NoError(t, s.Init(ctx))
	_, err := s.SaveEntry(ctx, sample("1", "2025-01-10T08:00"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2 := New(dsn)
	require.NoError(t, s2.Init(ctx))
	defer s2.Close()
	_, ok, err := s2.GetEntryByID(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotInitialised_ReturnsStorageError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "x.db"))
	_, err := s.GetAllEntries(context.Background())
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestEntries_CRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.SaveEntry(ctx, sample("a", "2025-01-01T08:00"))
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	_, err = s.SaveEntry(ctx, sample("b", "2025-01-10T08:00"))
	require.NoError(t, err)

	list, err := s.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	_, ok, err := s.GetEntryByID(ctx, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteEntry(ctx, "a"))
	require.NoError(t, s.DeleteEntry(ctx, "a"))
	_, ok, err = s.GetEntryByID(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirrorEntry_IgnoresStaleRemoteCopy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	local := sample("r1", "2025-01-10T08:00")
	local.Title = "edited locally"
	local.UpdatedAt = time.UnixMilli(5_000)
	_, err := s.SaveEntry(ctx, local)
	require.NoError(t, err)

	late := sample("r1", "2025-01-10T08:00")
	late.Title = "late remote success"
	late.UpdatedAt = time.UnixMilli(4_000)
	applied, err := s.MirrorEntry(ctx, late)
	require.NoError(t, err)
	assert.False(t, applied)

	got, _, err := s.GetEntryByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "edited locally", got.Title)
}

func TestReplaceEntryID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tmp := sample("1736496000000", "2025-01-10T08:00")
	tmp.IsOffline = true
	_, err := s.SaveEntry(ctx, tmp)
	require.NoError(t, err)

	remote := tmp
	remote.ID = "0b6cbb5d-1a11-4a57-9d55-7f0c3e1a2b7e"
	remote.ClientID = tmp.ID
	remote.IsOffline = false
	require.NoError(t, s.ReplaceEntryID(ctx, tmp.ID, remote))

	_, ok, err := s.GetEntryByID(ctx, tmp.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := s.GetEntryByID(ctx, remote.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tmp.ID, got.ClientID)
	assert.False(t, got.IsOffline)
}

func TestQueue_Lifecycle(t *testing.T) {
	clock := time.UnixMilli(10_000)
	s := New(filepath.Join(t.TempDir(), "q.db"), WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	id1, err := s.AddToQueue(ctx, models.ActionCreate, sample("1", "2025-01-10T08:00"))
	require.NoError(t, err)
	id2, err := s.AddToQueue(ctx, models.ActionDelete, models.DeletePayload{ID: "1"})
	require.NoError(t, err)

	items, err := s.GetQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, id1, items[0].ID)
	assert.Equal(t, id2, items[1].ID)
	assert.True(t, items[0].EnqueuedAt.Before(items[1].EnqueuedAt))

	e, err := items[0].Entry()
	require.NoError(t, err)
	assert.Equal(t, "Concreto losa 3", e.Title)

	require.NoError(t, s.MarkQueueItemAsSynced(ctx, id1))
	require.NoError(t, s.MarkQueueItemAsSynced(ctx, 424242))
	require.NoError(t, s.RecordQueueFailure(ctx, id2, common.ErrConstraint))

	n, err := s.PendingQueueCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "constraint violation", pending[0].LastError)

	cleared, err := s.ClearSyncedQueueItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}

func TestCommitOffline_EntryAndQueueTogether(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := sample("1736496000000", "2025-01-10T08:00")
	e.IsOffline = true
	stored, itemID, err := s.CommitOffline(ctx, models.ActionCreate, e)
	require.NoError(t, err)
	assert.NotZero(t, itemID)
	assert.False(t, stored.UpdatedAt.IsZero())

	_, ok, err := s.GetEntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, delID, err := s.CommitOffline(ctx, models.ActionDelete, e)
	require.NoError(t, err)

	_, ok, err = s.GetEntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := s.GetQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionCreate, items[0].Action)
	assert.Equal(t, delID, items[1].ID)

	var p map[string]any
	require.NoError(t, json.Unmarshal(items[1].Payload, &p))
	assert.Equal(t, map[string]any{"id": e.ID}, p)
}

func TestMaxFolioAndMeta(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := sample("1", "2025-01-10T08:00")
	e.Folio = "0031"
	_, err := s.SaveEntry(ctx, e)
	require.NoError(t, err)

	n, err := s.MaxFolio(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	require.NoError(t, s.SetMeta(ctx, "user", "u1"))
	v, ok, err := s.GetMeta(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", v)
	require.NoError(t, s.DeleteMeta(ctx, "user"))
	_, ok, err = s.GetMeta(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok)
}
