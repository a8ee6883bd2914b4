package syncqueue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
)

// Repository describes queue operations over the sync_queue table.
type Repository interface {
	// Add appends an unsynced item and returns its sequence id.
	Add(ctx context.Context, action models.Action, payload []byte, at time.Time) (int64, error)

	// List returns every item, synced or not, in enqueue order.
	List(ctx context.Context) ([]models.QueueItem, error)

	// ListPending returns unsynced items in enqueue order.
	ListPending(ctx context.Context) ([]models.QueueItem, error)

	// MarkSynced flags an item as replayed. An absent id is not an error.
	MarkSynced(ctx context.Context, id int64, at time.Time) error

	// RecordFailure bumps the attempt counter and keeps the last error.
	RecordFailure(ctx context.Context, id int64, msg string) error

	// ClearSynced removes replayed items and returns how many were removed.
	ClearSynced(ctx context.Context) (int64, error)

	// CountPending returns the number of unsynced items.
	CountPending(ctx context.Context) (int, error)
}
