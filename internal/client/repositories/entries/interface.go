package entries

import (
	"context"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
)

// Repository describes the operations the local store needs on entries.
type Repository interface {
	// Upsert inserts or overwrites an entry by id. A folio already stored is
	// never replaced.
	Upsert(ctx context.Context, entry *models.Entry) error

	// UpsertIfNewer is Upsert guarded by last-write-wins on UpdatedAt. It
	// reports whether the row was written.
	UpsertIfNewer(ctx context.Context, entry *models.Entry) (bool, error)

	// GetAll returns every entry, newest fecha first.
	GetAll(ctx context.Context) ([]models.Entry, error)

	// GetByID returns common.ErrNotFound when the id is absent.
	GetByID(ctx context.Context, id string) (*models.Entry, error)

	// DeleteByID removes the entry; deleting an absent id is not an error.
	DeleteByID(ctx context.Context, id string) error

	// GetAllPending returns entries still flagged as offline.
	GetAllPending(ctx context.Context) ([]models.Entry, error)

	// MaxFolio returns the highest numeric folio, or 0 when there is none.
	// With pendingOnly only offline entries are considered.
	MaxFolio(ctx context.Context, pendingOnly bool) (int, error)
}
