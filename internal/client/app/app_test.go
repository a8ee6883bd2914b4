package app

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/auth"
	"github.com/dmitrijs2005/bitacora/internal/client/config"
	"github.com/dmitrijs2005/bitacora/internal/client/connectivity"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/client/services"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

type switchProber struct {
	online atomic.Bool
}

func (s *switchProber) Probe(context.Context) bool { return s.online.Load() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "app.db")
	cfg.ProbeTargets = []string{"static:online"}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryAttempts = 1
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func draft(title string) models.EntryDraft {
	return models.EntryDraft{Title: title, Date: models.MustLocalDateTime("2024-05-10T08:30:00")}
}

func TestNew_LocalOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = ""
	a := newApp(t, cfg)
	ctx := context.Background()

	st := a.Connect(ctx)
	assert.False(t, st.Online)
	assert.True(t, st.OfflineMode)

	res, err := a.Entries.Create(ctx, draft("Colado de losa"))
	require.NoError(t, err)
	assert.True(t, res.Offline)

	status := a.Status(ctx)
	assert.Equal(t, "disabled", status.RemoteMode)
	assert.Equal(t, 1, status.Pending)
	assert.Nil(t, status.Degraded)
}

func TestNew_BadProbeTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProbeTargets = []string{"ftp://nowhere"}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNew_DegradedLocalStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "dir", "app.db")
	a := newApp(t, cfg, WithProber(connectivity.StaticProber(false)))

	require.Error(t, a.State.Degraded())

	_, err := a.Entries.Create(context.Background(), draft("sin disco"))
	require.Error(t, err)
}

func TestHandleTransition_OnlineReplaysThenReloads(t *testing.T) {
	rs := remote.NewMemoryStore()
	p := &switchProber{}
	a := newApp(t, testConfig(t), WithRemote(rs), WithProber(p))
	ctx := context.Background()

	require.False(t, a.Connect(ctx).Online)
	_, err := a.Entries.Create(ctx, draft("Armado de trabes"))
	require.NoError(t, err)
	_, err = a.Entries.Create(ctx, draft("Descimbrado"))
	require.NoError(t, err)
	assert.Empty(t, rs.Snapshot())

	p.online.Store(true)
	st, ran := a.Monitor.Check(ctx)
	require.True(t, ran)
	a.HandleTransition(ctx, connectivity.Transition{From: false, To: true, At: st.CheckedAt})

	assert.Len(t, rs.Snapshot(), 2)

	list, source := a.State.Entries()
	assert.Equal(t, services.SourceRemote, source)
	require.Len(t, list, 2)
	for _, e := range list {
		assert.False(t, models.IsTemporaryID(e.ID), "entry %s still temporary", e.ID)
	}
	assert.Equal(t, 0, a.Status(ctx).Pending)
}

func TestStart_ReactsToTransitions(t *testing.T) {
	rs := remote.NewMemoryStore()
	p := &switchProber{}
	a := newApp(t, testConfig(t), WithRemote(rs), WithProber(p))
	ctx := context.Background()

	a.Start(ctx)

	// первое измерение всегда даёт переход
	select {
	case <-a.Reloaded():
	case <-time.After(2 * time.Second):
		t.Fatal("initial transition not handled")
	}

	res, err := a.Entries.Create(ctx, draft("Instalación eléctrica"))
	require.NoError(t, err)
	require.True(t, res.Offline)

	p.online.Store(true)

	require.Eventually(t, func() bool {
		return len(rs.Snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, source := a.State.Entries()
		return source == services.SourceRemote
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, config.RemoteMemory, a.Status(ctx).RemoteMode)
}

func TestConnect_RestoresSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = ""
	ctx := context.Background()

	first := newApp(t, cfg)
	require.NoError(t, first.Local.SetMeta(ctx, services.MetaUser, `{"id":"u1","email":"residente@obra.mx","rol":"user"}`))
	require.NoError(t, first.Local.SetMeta(ctx, services.MetaAccessToken, tokenFor(t, "u1")))
	require.NoError(t, first.Close())

	second := newApp(t, cfg)
	second.Connect(ctx)

	u, ok := second.State.User()
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
	require.NotNil(t, second.Status(ctx).User)
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(models.User{ID: userID, Email: "residente@obra.mx"}, []byte("test-secret"), time.Hour)
	require.NoError(t, err)
	return tok
}
