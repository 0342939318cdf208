// Package service contains the access-controlled app store used by the transport layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/appshelf/internal/access"
	"github.com/and161185/appshelf/internal/convert"
	"github.com/and161185/appshelf/internal/errs"
	"github.com/and161185/appshelf/internal/model"
	"github.com/and161185/appshelf/internal/repository"
)

// AppService defines CRUD and access-aware retrieval over apps.
type AppService interface {
	// Create stores a new app owned by ownerID; errs.ErrAlreadyExists on id collision.
	Create(ctx context.Context, form model.AppForm, ownerID string) (*model.App, error)
	// GetByID returns a single app; errs.ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*model.App, error)
	// ListAll returns every app.
	ListAll(ctx context.Context) ([]model.App, error)
	// ListAccessibleTo returns apps owned by userID or granting it permission.
	ListAccessibleTo(ctx context.Context, userID, permission string) ([]model.App, error)
	// Search filters, orders and paginates apps joined with owner profiles.
	Search(ctx context.Context, callerID string, f model.Filter, skip, limit int) (model.AppList, error)
	// Toggle flips is_active.
	Toggle(ctx context.Context, id string) (*model.App, error)
	// Update replaces all form fields except id.
	Update(ctx context.Context, id string, form model.AppForm) (*model.App, error)
	// DeleteByID physically removes one app.
	DeleteByID(ctx context.Context, id string) (bool, error)
	// DeleteAll physically removes every app.
	DeleteAll(ctx context.Context) (bool, error)
	// Tags returns the sorted distinct tags of the caller's writable apps, or of all apps with bypass.
	Tags(ctx context.Context, userID string, bypass bool) ([]string, error)
	// Import upserts raw app documents by id; new apps are owned by callerID.
	Import(ctx context.Context, callerID string, items []map[string]any) error
	// CanAccess reports whether caller owns app or holds permission on it.
	CanAccess(ctx context.Context, caller model.Caller, app *model.App, permission string) (bool, error)
	// HasPermission resolves a workspace permission key for caller.
	HasPermission(ctx context.Context, caller model.Caller, key string) (bool, error)
}

// AppServiceImpl implements AppService over app and group repositories.
type AppServiceImpl struct {
	apps     repository.AppRepository
	groups   repository.GroupRepository
	defaults map[string]any
	log      *zap.Logger
	now      func() time.Time
}

// NewAppService constructs AppService. defaults are the user permissions applied
// when none of the caller's groups grants a key.
func NewAppService(apps repository.AppRepository, groups repository.GroupRepository, defaults map[string]any, log *zap.Logger) *AppServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppServiceImpl{apps: apps, groups: groups, defaults: defaults, log: log, now: time.Now}
}

// Create validates form, rejects existing ids and inserts the app with both
// timestamps set to now.
func (s *AppServiceImpl) Create(ctx context.Context, form model.AppForm, ownerID string) (*model.App, error) {
	if err := convert.ValidateForm(form); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner", errs.ErrValidation)
	}

	_, err := s.apps.Get(ctx, form.ID)
	switch {
	case err == nil:
		return nil, errs.ErrAlreadyExists
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	ts := s.now().Unix()
	app := newApp(form, ownerID, ts)
	if err := s.apps.Insert(ctx, app); err != nil {
		if !errors.Is(err, errs.ErrAlreadyExists) {
			s.log.Error("insert app failed", zap.String("id", form.ID), zap.Error(err))
		}
		return nil, err
	}
	return app, nil
}

func newApp(f model.AppForm, ownerID string, ts int64) *model.App {
	params := f.Params
	if params == nil {
		params = model.Params{}
	}
	meta := f.Meta
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	return &model.App{
		ID:            f.ID,
		UserID:        ownerID,
		SourceChatID:  f.SourceChatID,
		Title:         f.Title,
		SourceCode:    f.SourceCode,
		Params:        params,
		Meta:          meta,
		AccessControl: f.AccessControl,
		IsActive:      f.IsActive,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

// GetByID loads a single app.
func (s *AppServiceImpl) GetByID(ctx context.Context, id string) (*model.App, error) {
	if id == "" {
		return nil, errs.ErrNotFound
	}
	return s.apps.Get(ctx, id)
}

// ListAll returns every app.
func (s *AppServiceImpl) ListAll(ctx context.Context) ([]model.App, error) {
	return s.apps.List(ctx)
}

// ListAccessibleTo filters all apps by ownership or access grant. Group
// membership is looked up on every call.
func (s *AppServiceImpl) ListAccessibleTo(ctx context.Context, userID, permission string) ([]model.App, error) {
	if permission != model.PermRead && permission != model.PermWrite {
		return nil, fmt.Errorf("%w: permission %q", errs.ErrValidation, permission)
	}
	all, err := s.apps.List(ctx)
	if err != nil {
		return nil, err
	}
	groupIDs, err := s.groupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.App, 0, len(all))
	for _, a := range all {
		if a.UserID == userID || access.HasAccess(userID, permission, a.AccessControl, groupIDs) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Search delegates to the repository. Negative skip/limit are treated as absent.
func (s *AppServiceImpl) Search(ctx context.Context, callerID string, f model.Filter, skip, limit int) (model.AppList, error) {
	return s.apps.Search(ctx, callerID, f, max(skip, 0), max(limit, 0))
}

// Toggle flips is_active and refreshes updated_at.
func (s *AppServiceImpl) Toggle(ctx context.Context, id string) (*model.App, error) {
	return s.apps.Toggle(ctx, id, s.now().Unix())
}

// Update replaces every form field except id. Owner and created_at are kept.
func (s *AppServiceImpl) Update(ctx context.Context, id string, form model.AppForm) (*model.App, error) {
	if err := convert.ValidateForm(form); err != nil {
		return nil, err
	}
	a, err := s.apps.Update(ctx, id, form, s.now().Unix())
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Error("update app failed", zap.String("id", id), zap.Error(err))
	}
	return a, err
}

// DeleteByID removes one app.
func (s *AppServiceImpl) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := s.apps.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAll removes every app.
func (s *AppServiceImpl) DeleteAll(ctx context.Context) (bool, error) {
	if err := s.apps.DeleteAll(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Tags collects distinct tags, sorted.
func (s *AppServiceImpl) Tags(ctx context.Context, userID string, bypass bool) ([]string, error) {
	var (
		apps []model.App
		err  error
	)
	if bypass {
		apps, err = s.ListAll(ctx)
	} else {
		apps, err = s.ListAccessibleTo(ctx, userID, model.PermWrite)
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	tags := []string{}
	for _, a := range apps {
		for _, t := range a.Meta.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	slices.Sort(tags)
	return tags, nil
}

// Import upserts each item by id. A malformed item aborts the batch with
// errs.ErrValidation; storage failures on a single item are logged and the
// item is skipped.
func (s *AppServiceImpl) Import(ctx context.Context, callerID string, items []map[string]any) error {
	for i, raw := range items {
		id, _ := raw["id"].(string)

		existing, err := s.apps.Get(ctx, id)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("import: lookup failed, skipping", zap.Int("index", i), zap.String("id", id), zap.Error(err))
			continue
		}
		if err != nil {
			existing = nil
		}

		form, err := convert.ImportForm(existing, raw)
		if err != nil {
			return fmt.Errorf("item[%d]: %w", i, err)
		}

		if existing != nil {
			_, err = s.apps.Update(ctx, id, form, s.now().Unix())
		} else {
			err = s.apps.Insert(ctx, newApp(form, callerID, s.now().Unix()))
		}
		if err != nil {
			s.log.Warn("import: upsert failed, skipping", zap.Int("index", i), zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// CanAccess is true for the owner or when the rule grants permission to the
// caller or one of its groups. Admin overrides are decided by the caller.
func (s *AppServiceImpl) CanAccess(ctx context.Context, caller model.Caller, app *model.App, permission string) (bool, error) {
	if app.UserID == caller.ID {
		return true, nil
	}
	if app.AccessControl == nil {
		return access.HasAccess(caller.ID, permission, nil, nil), nil
	}
	groupIDs, err := s.groupIDs(ctx, caller.ID)
	if err != nil {
		return false, err
	}
	return access.HasAccess(caller.ID, permission, app.AccessControl, groupIDs), nil
}

// HasPermission is always true for admins; otherwise groups then defaults decide.
func (s *AppServiceImpl) HasPermission(ctx context.Context, caller model.Caller, key string) (bool, error) {
	if caller.IsAdmin() {
		return true, nil
	}
	groups, err := s.groups.GroupsByMember(ctx, caller.ID)
	if err != nil {
		return false, err
	}
	return access.HasPermission(key, groups, s.defaults), nil
}

func (s *AppServiceImpl) groupIDs(ctx context.Context, userID string) ([]string, error) {
	groups, err := s.groups.GroupsByMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	return access.GroupIDs(groups), nil
}
