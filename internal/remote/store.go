// Package remote is the client of the hosted relational backend: the
// bitacora (entries) table and its related profiles, comentarios,
// bitacora_read and email_logs tables.
//
// Every error leaving a Store is classified: failures to reach the backend
// wrap common.ErrConnectivity and trigger the offline fallback upstream;
// everything else is a *common.RemoteError and is surfaced to the user.
package remote

import (
	"context"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
)

// Store is the remote data store as seen by the sync machinery.
type Store interface {
	Ping(ctx context.Context) error

	// InsertEntry stores a new row and returns it with the remote id.
	InsertEntry(ctx context.Context, e models.Entry) (models.Entry, error)
	// UpdateEntry overwrites the row addressed by e.ID with the full record.
	// The folio column is never changed.
	UpdateEntry(ctx context.Context, e models.Entry) (models.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	// DeleteDependents removes comments, read receipts and notification logs
	// of an entry. It must run before DeleteEntry.
	DeleteDependents(ctx context.Context, id string) error

	GetEntry(ctx context.Context, id string) (models.Entry, error)
	// FindByClientID looks up the row created from an offline entry.
	FindByClientID(ctx context.Context, clientID string) (models.Entry, bool, error)
	ListEntries(ctx context.Context, f models.EntryFilter) ([]models.Entry, error)
	MaxFolio(ctx context.Context) (int, error)

	GetProfile(ctx context.Context, userID string) (models.User, error)

	AddComment(ctx context.Context, c models.Comment) (models.Comment, error)
	ListComments(ctx context.Context, entryID string) ([]models.Comment, error)

	LogNotification(ctx context.Context, entryID, recipient, status string) error
}
