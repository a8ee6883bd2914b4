package folio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bitacora/internal/client/localstore"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

type fakeRemote struct {
	max   int
	err   error
	calls int
}

func (f *fakeRemote) MaxFolio(context.Context) (int, error) {
	f.calls++
	return f.max, f.err
}

type fakeLocal struct {
	all, pending int
	err          error
}

func (f *fakeLocal) MaxFolio(_ context.Context, pendingOnly bool) (int, error) {
	if pendingOnly {
		return f.pending, f.err
	}
	return f.all, f.err
}

func fixedClock() time.Time { return time.UnixMilli(1736496001234) }

func TestFormat(t *testing.T) {
	assert.Equal(t, "0001", Format(1))
	assert.Equal(t, "0042", Format(42))
	assert.Equal(t, "9999", Format(9999))
	assert.Equal(t, "10000", Format(10000))
	assert.Equal(t, "0000", Format(-3))
}

func TestFallback(t *testing.T) {
	assert.Equal(t, "1234", Fallback(fixedClock()))
	assert.Equal(t, "0007", Fallback(time.UnixMilli(20007)))
}

func TestNext(t *testing.T) {
	tests := []struct {
		name   string
		online bool
		remote *fakeRemote
		local  *fakeLocal
		want   string
	}{
		{"online uses remote max", true, &fakeRemote{max: 41}, &fakeLocal{all: 12}, "0042"},
		{"online respects pending offline folios", true, &fakeRemote{max: 41}, &fakeLocal{all: 50, pending: 50}, "0051"},
		{"online empty remote starts at one", true, &fakeRemote{}, &fakeLocal{}, "0001"},
		{"remote connectivity error falls back to local", true, &fakeRemote{err: common.Connectivity(errors.New("dial"))}, &fakeLocal{all: 7}, "0008"},
		{"remote logical error falls back to local", true, &fakeRemote{err: &common.RemoteError{Op: "max_folio", Err: common.ErrPermissionDenied}}, &fakeLocal{all: 7}, "0008"},
		{"offline uses local", false, &fakeRemote{max: 99}, &fakeLocal{all: 7}, "0008"},
		{"offline empty local uses clock", false, &fakeRemote{max: 99}, &fakeLocal{}, "1234"},
		{"both unavailable uses clock", true, &fakeRemote{err: common.ErrConnectivity}, &fakeLocal{err: common.ErrStorage}, "1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.remote, tt.local, staticConn(tt.online), WithClock(fixedClock))
			assert.Equal(t, tt.want, g.Next(context.Background()))
			if !tt.online {
				assert.Zero(t, tt.remote.calls, "remote must not be queried offline")
			}
		})
	}
}

func TestNext_NilSources(t *testing.T) {
	g := New(nil, nil, nil, WithClock(fixedClock))
	assert.Equal(t, "1234", g.Next(context.Background()))
}

// Один клиент, без конкурентов: фолио строго растут в обоих режимах.
func TestNext_MonotonicSingleWriter(t *testing.T) {
	ctx := context.Background()
	ls := localstore.New(filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, ls.Init(ctx))
	t.Cleanup(func() { _ = ls.Close() })

	rs := remote.NewMemoryStore()
	online := staticConn(true)
	g := New(rs, ls, online, WithClock(fixedClock))

	var got []string
	persist := func(f string, offline bool) {
		e := models.Entry{
			ID:        models.NewTemporaryID(time.Now()),
			ClientID:  f,
			Folio:     f,
			Title:     "t",
			Date:      models.MustLocalDateTime("2025-01-10T08:00"),
			IsOffline: offline,
		}
		if offline {
			_, _, err := ls.CommitOffline(ctx, models.ActionCreate, e)
			require.NoError(t, err)
			return
		}
		created, err := rs.InsertEntry(ctx, e)
		require.NoError(t, err)
		_, err = ls.MirrorEntry(ctx, created)
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		f := g.Next(ctx)
		got = append(got, f)
		persist(f, false)
	}

	offline := New(rs, ls, staticConn(false), WithClock(fixedClock))
	for i := 0; i < 3; i++ {
		f := offline.Next(ctx)
		got = append(got, f)
		persist(f, true)
	}

	// Back online while offline entries are still queued.
	for i := 0; i < 2; i++ {
		f := g.Next(ctx)
		got = append(got, f)
		persist(f, false)
	}

	assert.Equal(t, []string{"0001", "0002", "0003", "0004", "0005", "0006", "0007", "0008"}, got)
}

type staticConn bool

func (s staticConn) IsOnline() bool { return bool(s) }
