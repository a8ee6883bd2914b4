package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/appstate"
	"github.com/dmitrijs2005/bitacora/internal/client/auth"
	"github.com/dmitrijs2005/bitacora/internal/client/localstore"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

// ---- helpers ----

var testSecret = []byte("super-secret")

func setupStore(t *testing.T) *localstore.Store {
	t.Helper()
	ls := localstore.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, ls.Init(context.Background()))
	t.Cleanup(func() { _ = ls.Close() })
	return ls
}

func token(t *testing.T, u models.User, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.GenerateToken(u, testSecret, ttl)
	require.NoError(t, err)
	return tok
}

func getMeta(t *testing.T, ls *localstore.Store, k string) string {
	t.Helper()
	v, ok, err := ls.GetMeta(context.Background(), k)
	require.NoError(t, err)
	require.True(t, ok, "metadata %s missing", k)
	return v
}

// ---- TESTS ----

func TestLogin_Online_RoleFromProfile(t *testing.T) {
	ls := setupStore(t)
	rs := remote.NewMemoryStore()
	rs.PutProfile(models.User{ID: "u1", Email: "jefe@obra.mx", Role: models.RoleAdmin})
	conn := &toggle{}
	conn.on.Store(true)
	state := appstate.New(conn)

	svc := NewAuthService(ls, rs, state, testSecret)
	tok := token(t, models.User{ID: "u1"}, time.Hour)

	u, err := svc.Login(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, u.Role)
	require.Equal(t, "jefe@obra.mx", u.Email)
	require.True(t, state.IsAdmin())

	// токен и профиль сохранены локально
	require.Equal(t, tok, getMeta(t, ls, MetaAccessToken))
	require.Contains(t, getMeta(t, ls, MetaUser), `"rol":"admin"`)
}

func TestLogin_InvalidToken(t *testing.T) {
	ls := setupStore(t)
	svc := NewAuthService(ls, nil, appstate.New(nil), testSecret)

	_, err := svc.Login(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = svc.Login(context.Background(), token(t, models.User{ID: "u1"}, -time.Second))
	require.ErrorIs(t, err, common.ErrTokenExpired)

	_, ok, err := ls.GetMeta(context.Background(), MetaAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogin_ProfileErrorPropagates(t *testing.T) {
	ls := setupStore(t)
	rs := remote.NewMemoryStore()
	rs.FailOn("profile", "u1", &common.RemoteError{Op: "profile", Err: common.ErrPermissionDenied})
	conn := &toggle{}
	conn.on.Store(true)

	svc := NewAuthService(ls, rs, appstate.New(conn), testSecret)
	_, err := svc.Login(context.Background(), token(t, models.User{ID: "u1"}, time.Hour))
	require.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestRestore_OfflineUsesCachedProfile(t *testing.T) {
	ls := setupStore(t)
	rs := remote.NewMemoryStore()
	rs.PutProfile(models.User{ID: "u1", Role: models.RoleAdmin})
	conn := &toggle{}
	conn.on.Store(true)

	online := NewAuthService(ls, rs, appstate.New(conn), testSecret)
	_, err := online.Login(context.Background(), token(t, models.User{ID: "u1"}, time.Hour))
	require.NoError(t, err)

	// новый процесс, сети нет
	conn.on.Store(false)
	state := appstate.New(conn)
	svc := NewAuthService(ls, rs, state, testSecret)

	u, err := svc.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, models.RoleAdmin, u.Role)
	require.True(t, state.IsAdmin())
}

func TestRestore_RemoteDownUsesCachedProfile(t *testing.T) {
	ls := setupStore(t)
	rs := remote.NewMemoryStore()
	rs.PutProfile(models.User{ID: "u1", Role: models.RoleAdmin})
	conn := &toggle{}
	conn.on.Store(true)

	svc := NewAuthService(ls, rs, appstate.New(conn), testSecret)
	_, err := svc.Login(context.Background(), token(t, models.User{ID: "u1"}, time.Hour))
	require.NoError(t, err)

	rs.SetDown(true)
	u, err := svc.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, u.Role)
}

func TestRestore_NotLoggedIn(t *testing.T) {
	ls := setupStore(t)
	svc := NewAuthService(ls, nil, appstate.New(nil), nil)

	_, err := svc.Restore(context.Background())
	require.ErrorIs(t, err, common.ErrNotLoggedIn)
}

func TestLogout_ClearsSession(t *testing.T) {
	ls := setupStore(t)
	state := appstate.New(nil)
	svc := NewAuthService(ls, nil, state, testSecret)

	_, err := svc.Login(context.Background(), token(t, models.User{ID: "u1", Role: models.RoleAdmin}, time.Hour))
	require.NoError(t, err)
	require.True(t, state.IsAdmin(), "offline login keeps the role from the token")

	require.NoError(t, svc.Logout(context.Background()))
	_, ok := state.User()
	require.False(t, ok)

	_, err = svc.Restore(context.Background())
	require.ErrorIs(t, err, common.ErrNotLoggedIn)
}

func TestPing(t *testing.T) {
	ls := setupStore(t)

	err := NewAuthService(ls, nil, appstate.New(nil), nil).Ping(context.Background())
	require.ErrorIs(t, err, common.ErrRemoteDisabled)

	rs := remote.NewMemoryStore()
	svc := NewAuthService(ls, rs, appstate.New(nil), nil)
	require.NoError(t, svc.Ping(context.Background()))

	rs.SetDown(true)
	err = svc.Ping(context.Background())
	require.True(t, errors.Is(err, common.ErrConnectivity))
}
