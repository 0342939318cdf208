package repository

import (
	"context"

	"github.com/and161185/appshelf/internal/model"
)

// AppRepository provides persistent access to apps.
type AppRepository interface {
	// Insert stores a new app; returns errs.ErrAlreadyExists on id collision.
	Insert(ctx context.Context, app *model.App) error

	// Get loads a single app by id; returns errs.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.App, error)

	// List returns every stored app.
	List(ctx context.Context) ([]model.App, error)

	// Search applies filter, ordering and pagination, joined with owner profiles.
	Search(ctx context.Context, callerID string, f model.Filter, skip, limit int) (model.AppList, error)

	// Update replaces all form fields except id and sets updated_at.
	Update(ctx context.Context, id string, form model.AppForm, updatedAt int64) (*model.App, error)

	// Toggle flips is_active and sets updated_at.
	Toggle(ctx context.Context, id string, updatedAt int64) (*model.App, error)

	// Delete removes a single app by id.
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every app.
	DeleteAll(ctx context.Context) error
}
