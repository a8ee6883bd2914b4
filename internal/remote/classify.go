package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
)

// classify maps a database error onto the client error taxonomy. ctx is
// the bounded context of the call: once it has expired the failure is a
// timeout whatever the driver reported.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}

	var re *common.RemoteError
	if errors.As(err, &re) || errors.Is(err, common.ErrConnectivity) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return common.Connectivity(err)
	}

	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return common.Connectivity(err)
	}

	if dbx.IsNoRows(err) {
		return &common.RemoteError{Op: op, Err: common.ErrNotFound}
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "42501" || strings.HasPrefix(pe.Code, "28"):
			return &common.RemoteError{Op: op, Err: errors.Join(common.ErrPermissionDenied, err)}
		case strings.HasPrefix(pe.Code, "23"):
			return &common.RemoteError{Op: op, Err: errors.Join(common.ErrConstraint, err)}
		case strings.HasPrefix(pe.Code, "08") || pe.Code == "57P01" || pe.Code == "57P03":
			return common.Connectivity(err)
		}
		return &common.RemoteError{Op: op, Err: err}
	}

	if common.IsConnectivity(err) {
		return common.Connectivity(err)
	}
	return &common.RemoteError{Op: op, Err: err}
}
