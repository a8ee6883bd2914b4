// Package entries provides the local persistence layer for logbook entries.
//
// # Overview
//
// The package defines a Repository interface over the entries table of the
// local SQLite store. SQLiteRepository works on a dbx.DBTX, so the same code
// runs against *sql.DB or inside a transaction opened by the caller.
//
// # Data Model
//
// Rows are keyed by id, which is either a temporary id (offline-created) or
// the remote UUID. The fecha column holds a fixed-width naive timestamp so
// that text ordering equals time ordering. archivos holds JSON; legacy shapes
// are normalised on read by models.ParseAttachments. updated_at is a
// millisecond wall clock used for last-write-wins mirroring.
//
// Typical Usage
//
//	repo := entries.NewSQLiteRepository(db)
//	_ = repo.Upsert(ctx, &entry)
//	list, _ := repo.GetAll(ctx)
//	one, _ := repo.GetByID(ctx, id)
//	_ = repo.DeleteByID(ctx, id)
package entries
