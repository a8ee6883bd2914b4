package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/bitacora/internal/dbx"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/remote/migrations"
)

// Open returns a pgx-backed *sql.DB. The connection is established lazily;
// an unreachable server shows up on the first call, not here.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return db, nil
}

// Migrate brings the remote schema to the latest version.
func Migrate(ctx context.Context, db *sql.DB, log logging.Logger) error {
	if err := dbx.Migrate(ctx, db, migrations.Migrations, "pgx", log); err != nil {
		return classify(ctx, "migrate", err)
	}
	return nil
}
