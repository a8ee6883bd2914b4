package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/bitacora/internal/client/migrations"
	"github.com/dmitrijs2005/bitacora/internal/dbx"
	"github.com/dmitrijs2005/bitacora/internal/logging"

	_ "modernc.org/sqlite"
)

// RunMigrations applies the embedded migrations up to the latest version.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	return dbx.Migrate(ctx, db, migrations.Migrations, "sqlite3", log)
}

// InitDatabase opens the SQLite file at dsn and migrates it. A single
// connection is kept open so writes serialize and ":memory:" databases
// survive between calls.
func InitDatabase(ctx context.Context, dsn string, log logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if err := RunMigrations(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	return db, nil
}
