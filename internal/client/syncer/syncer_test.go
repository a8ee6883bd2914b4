package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/localstore"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
	"github.com/dmitrijs2005/bitacora/internal/remote"
	"github.com/dmitrijs2005/bitacora/internal/retry"
)

type online bool

func (o online) IsOnline() bool { return bool(o) }

func newLocal(t *testing.T) *localstore.Store {
	t.Helper()
	ls := localstore.New(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, ls.Init(context.Background()))
	t.Cleanup(func() { _ = ls.Close() })
	return ls
}

func newManager(ls *localstore.Store, rs remote.Store, opts ...Option) *Manager {
	opts = append([]Option{WithPolicy(retry.NoRetry())}, opts...)
	return New(ls, rs, online(true), opts...)
}

func offlineEntry(title string) models.Entry {
	id := models.NewTemporaryID(time.Now())
	return models.Entry{
		ID:          id,
		ClientID:    id,
		Folio:       "0001",
		Title:       title,
		Description: "vaciado de concreto",
		Date:        models.MustLocalDateTime("2025-01-10T08:00"),
		Category:    "avance",
		Location:    "Losa 3",
		UserID:      "u1",
		IsOffline:   true,
	}
}

func commit(t *testing.T, ls *localstore.Store, action models.Action, e models.Entry) int64 {
	t.Helper()
	_, id, err := ls.CommitOffline(context.Background(), action, e)
	require.NoError(t, err)
	return id
}

func pending(t *testing.T, ls *localstore.Store) int {
	t.Helper()
	n, err := ls.PendingQueueCount(context.Background())
	require.NoError(t, err)
	return n
}

func TestSync_NoOpPreconditions(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	commit(t, ls, models.ActionCreate, offlineEntry("a"))

	res, err := New(ls, nil, online(true)).Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ran)

	rs := remote.NewMemoryStore()
	res, err = New(ls, rs, online(false)).Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Empty(t, rs.Calls())
	assert.Equal(t, 1, pending(t, ls))
}

func TestSync_ThreeOfflineCreates(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	var temps []string
	for _, title := range []string{"uno", "dos", "tres"} {
		e := offlineEntry(title)
		temps = append(temps, e.ID)
		commit(t, ls, models.ActionCreate, e)
	}

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, 3, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 0, pending(t, ls))

	items, err := ls.GetQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.True(t, it.Synced)
		assert.NotNil(t, it.SyncedAt)
	}

	assert.Len(t, rs.Snapshot(), 3)

	local, err := ls.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, local, 3)
	for _, e := range local {
		assert.False(t, models.IsTemporaryID(e.ID), "row %s kept its temporary id", e.ID)
		assert.False(t, e.IsOffline)
		assert.Contains(t, temps, e.ClientID)
	}
}

func TestSync_OfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	e := offlineEntry("Concreto losa 3")
	commit(t, ls, models.ActionCreate, e)

	_, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)

	got, found, err := rs.FindByClientID(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, e.Title, got.Title)
	assert.Equal(t, e.Description, got.Description)
	assert.True(t, e.Date.Equal(got.Date.Time))
	assert.Equal(t, e.Category, got.Category)
	assert.Equal(t, e.Location, got.Location)
}

func TestSync_UpdatesReplayInOrder(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	e := offlineEntry("v1")
	commit(t, ls, models.ActionCreate, e)

	e.Title = "v2"
	e.Description = "primera edición"
	commit(t, ls, models.ActionUpdate, e)

	e.Title = "v3"
	e.Location = "Eje B"
	commit(t, ls, models.ActionUpdate, e)

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)

	snap := rs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "v3", snap[0].Title)
	assert.Equal(t, "Eje B", snap[0].Location)
	assert.Equal(t, "primera edición", snap[0].Description)

	local, err := ls.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, snap[0].ID, local[0].ID)
	assert.Equal(t, "v3", local[0].Title)
	assert.False(t, local[0].IsOffline)
}

func TestSync_SecondUpdateWinsOnRemoteEntry(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()
	rs.PutEntry(models.Entry{ID: "9b2f3c1e-0000-4000-8000-000000000001", Folio: "0007", Title: "orig", Description: "d", Date: models.MustLocalDateTime("2025-01-09T10:00")})

	first := models.Entry{ID: "9b2f3c1e-0000-4000-8000-000000000001", Folio: "0007", Title: "first", Description: "only in first", Date: models.MustLocalDateTime("2025-01-09T10:00")}
	second := models.Entry{ID: "9b2f3c1e-0000-4000-8000-000000000001", Folio: "0007", Title: "second", Date: models.MustLocalDateTime("2025-01-09T11:00")}
	commit(t, ls, models.ActionUpdate, first)
	commit(t, ls, models.ActionUpdate, second)

	_, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)

	got, err := rs.GetEntry(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)
	assert.Empty(t, got.Description, "full payload replaces, no merge")
	assert.Equal(t, "0007", got.Folio)
}

func TestSync_InterruptedCycleResumesAfterLastSynced(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	entries := []models.Entry{offlineEntry("a"), offlineEntry("b"), offlineEntry("c")}
	for _, e := range entries {
		commit(t, ls, models.ActionCreate, e)
	}

	rs.FailOn("insert", entries[2].ClientID, common.Connectivity(errors.New("failed to fetch")))
	res, err := newManager(ls, rs).Sync(ctx)
	require.Error(t, err)
	assert.True(t, common.IsConnectivity(err))
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, pending(t, ls))

	rs.ClearFailures()
	before := len(rs.Calls())
	res, err = newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, []string{"find " + entries[2].ClientID, "insert " + entries[2].ClientID}, rs.Calls()[before:])
	assert.Len(t, rs.Snapshot(), 3)
}

func TestSync_CreateAlreadyAppliedIsAdopted(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	e := offlineEntry("crash between insert and mark")
	commit(t, ls, models.ActionCreate, e)
	rs.PutEntry(models.Entry{ID: "3f1b0d55-0000-4000-8000-00000000000a", ClientID: e.ClientID, Folio: e.Folio, Title: e.Title, Date: e.Date})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Len(t, rs.Snapshot(), 1)
	assert.NotContains(t, rs.Calls(), "insert "+e.ClientID)

	got, ok, err := ls.GetEntryByID(ctx, "3f1b0d55-0000-4000-8000-00000000000a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.ClientID, got.ClientID)
	_, ok, err = ls.GetEntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_FailedItemHoldsLaterItemsForSameEntry(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	bad := offlineEntry("rechazada")
	good := offlineEntry("aceptada")
	commit(t, ls, models.ActionCreate, bad)
	commit(t, ls, models.ActionCreate, good)
	bad.Title = "rechazada editada"
	commit(t, ls, models.ActionUpdate, bad)

	rs.FailOn("insert", bad.ClientID, &common.RemoteError{Op: "insert", Err: common.ErrPermissionDenied})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Held)
	require.Len(t, res.Errors, 1)

	var itemErr *common.SyncItemError
	require.ErrorAs(t, res.Errors[0], &itemErr)
	assert.ErrorIs(t, itemErr, common.ErrPermissionDenied)

	items, err := ls.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].LastError, "permission denied")
	assert.Zero(t, items[1].Attempts)

	assert.NotContains(t, rs.Calls(), "update "+bad.ID)
}

func TestSync_ConnectivityErrorAbortsCycle(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()
	for i := 0; i < 4; i++ {
		commit(t, ls, models.ActionCreate, offlineEntry(fmt.Sprintf("e%d", i)))
	}
	rs.SetDown(true)

	res, err := newManager(ls, rs).Sync(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConnectivity)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, rs.Calls(), 1)
	assert.Equal(t, 4, pending(t, ls))
}

func TestSync_RetriesConnectivityWithinPolicy(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()
	e := offlineEntry("flaky")
	commit(t, ls, models.ActionCreate, e)

	flaky := &flakyRemote{Store: rs, failures: 1}
	m := New(ls, flaky, online(true), WithPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Len(t, rs.Snapshot(), 1)
}

type flakyRemote struct {
	remote.Store
	failures int
}

func (f *flakyRemote) FindByClientID(ctx context.Context, id string) (models.Entry, bool, error) {
	if f.failures > 0 {
		f.failures--
		return models.Entry{}, false, common.Connectivity(errors.New("timeout"))
	}
	return f.Store.FindByClientID(ctx, id)
}

func TestSync_DeleteRemovesDependentsFirst(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	id := "5a0c1e2f-0000-4000-8000-000000000005"
	rs.PutEntry(models.Entry{ID: id, Folio: "0005", Title: "x", Date: models.MustLocalDateTime("2025-01-10T08:00")})
	for i := 0; i < 5; i++ {
		_, err := rs.AddComment(ctx, models.Comment{EntryID: id, UserID: "u1", Body: "ok"})
		require.NoError(t, err)
	}
	rs.MarkRead(id, "u2")
	commit(t, ls, models.ActionDelete, models.Entry{ID: id})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, rs.Snapshot())
	assert.Zero(t, rs.Dependents(id))

	calls := rs.Calls()
	assert.Equal(t, []string{"delete_dependents " + id, "delete " + id}, calls[len(calls)-2:])
}

func TestSync_UpdateOfRemovedEntrySupersededByQueuedDelete(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	// Removed remotely before the queue got to it.
	id := "5a0c1e2f-0000-4000-8000-000000000006"
	commit(t, ls, models.ActionUpdate, models.Entry{ID: id, Folio: "0006", Title: "editada", Date: models.MustLocalDateTime("2025-01-10T08:00")})
	commit(t, ls, models.ActionDelete, models.Entry{ID: id})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Zero(t, pending(t, ls))
}

func TestSync_UpdateOfRemovedEntryWithoutDeleteFails(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	id := "5a0c1e2f-0000-4000-8000-000000000007"
	commit(t, ls, models.ActionUpdate, models.Entry{ID: id, Folio: "0007", Title: "huérfana", Date: models.MustLocalDateTime("2025-01-10T08:00")})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], common.ErrNotFound)
	assert.Equal(t, 1, pending(t, ls))
}

func TestSync_CreateThenDeleteOffline(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	e := offlineEntry("efímera")
	commit(t, ls, models.ActionCreate, e)
	commit(t, ls, models.ActionDelete, e)

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Empty(t, rs.Snapshot())

	local, err := ls.GetAllEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestSync_DeleteOfUnknownTemporaryEntry(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()

	commit(t, ls, models.ActionDelete, models.Entry{ID: models.NewTemporaryID(time.Now())})

	res, err := newManager(ls, rs).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

func TestSync_PruneAndMetrics(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	rs := remote.NewMemoryStore()
	commit(t, ls, models.ActionCreate, offlineEntry("a"))
	commit(t, ls, models.ActionCreate, offlineEntry("b"))

	reg := prometheus.NewRegistry()
	res, err := newManager(ls, rs, WithPrune(true), WithMetrics(metrics.NewSync(reg))).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pruned)

	items, err := ls.GetQueueItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := testutil.GatherAndCount(reg, "bitacora_sync_replayed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type blockingRemote struct {
	remote.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRemote) FindByClientID(ctx context.Context, id string) (models.Entry, bool, error) {
	close(b.entered)
	<-b.release
	return b.Store.FindByClientID(ctx, id)
}

func TestSync_ConcurrentRunIsDropped(t *testing.T) {
	ctx := context.Background()
	ls := newLocal(t)
	commit(t, ls, models.ActionCreate, offlineEntry("a"))

	br := &blockingRemote{Store: remote.NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	m := newManager(ls, br)

	done := make(chan Result)
	go func() {
		res, _ := m.Sync(ctx)
		done <- res
	}()
	<-br.entered

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ran)

	close(br.release)
	first := <-done
	assert.Equal(t, 1, first.Synced)
}
