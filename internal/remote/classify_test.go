package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/bitacora/internal/common"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
		conn bool
	}{
		{"deadline", context.DeadlineExceeded, common.ErrConnectivity, true},
		{"bad conn", driver.ErrBadConn, common.ErrConnectivity, true},
		{"no rows", sql.ErrNoRows, common.ErrNotFound, false},
		{"rls", &pgconn.PgError{Code: "42501"}, common.ErrPermissionDenied, false},
		{"auth", &pgconn.PgError{Code: "28P01"}, common.ErrPermissionDenied, false},
		{"unique", &pgconn.PgError{Code: "23505"}, common.ErrConstraint, false},
		{"fk", &pgconn.PgError{Code: "23503"}, common.ErrConstraint, false},
		{"conn exception", &pgconn.PgError{Code: "08006"}, common.ErrConnectivity, true},
		{"network text", errors.New("dial tcp: connection refused"), common.ErrConnectivity, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(context.Background(), "insert", tt.err)
			assert.ErrorIs(t, got, tt.is)
			assert.Equal(t, tt.conn, common.IsConnectivity(got))
		})
	}
}

func TestClassify_NilAndAlreadyClassified(t *testing.T) {
	assert.NoError(t, classify(context.Background(), "x", nil))

	re := &common.RemoteError{Op: "update", Err: common.ErrNotFound}
	assert.Same(t, re, classify(context.Background(), "insert", re))

	var got *common.RemoteError
	assert.ErrorAs(t, classify(context.Background(), "select", errors.New("syntax error")), &got)
	assert.Equal(t, "select", got.Op)
}

func TestClassify_ExpiredContextIsConnectivity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := classify(ctx, "list", errors.New("canceling query due to user request"))
	assert.ErrorIs(t, got, common.ErrConnectivity)
	assert.ErrorIs(t, got, context.Canceled)
}
