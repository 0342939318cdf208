package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/appshelf/internal/errs"
	"github.com/and161185/appshelf/internal/model"
)

// AppRepo implements AppRepository using PostgreSQL.
type AppRepo struct{ db *DB }

// NewAppRepo constructs an app repository.
func NewAppRepo(db *DB) *AppRepo { return &AppRepo{db: db} }

const appColumns = `id, user_id, source_chat_id, title, source_code, params, meta, access_control, is_active, updated_at, created_at`

// a.-qualified appColumns for joined queries.
const appColumnsQualified = `a.id, a.user_id, a.source_chat_id, a.title, a.source_code, a.params, a.meta, a.access_control, a.is_active, a.updated_at, a.created_at`

type scanner interface {
	Scan(dest ...any) error
}

// Insert stores a new app row.
func (r *AppRepo) Insert(ctx context.Context, a *model.App) error {
	params, meta, ac, err := encodeDocs(a.Params, a.Meta, a.AccessControl)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO app (` + appColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.Pool.Exec(ctx, q,
		a.ID, a.UserID, a.SourceChatID, a.Title, a.SourceCode,
		params, meta, ac, a.IsActive, a.UpdatedAt, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert app %q: %w", a.ID, err)
	}
	return nil
}

// Get selects an app by id.
func (r *AppRepo) Get(ctx context.Context, id string) (*model.App, error) {
	const q = `SELECT ` + appColumns + ` FROM app WHERE id=$1`
	a, err := scanApp(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get app %q: %w", id, err)
	}
	return a, nil
}

// List selects every app, newest first.
func (r *AppRepo) List(ctx context.Context) ([]model.App, error) {
	const q = `SELECT ` + appColumns + ` FROM app ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	out := []model.App{}
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("list apps: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Search runs a filtered, ordered, paginated query joined with owner profiles.
// The total reflects the filter only; skip/limit never change it.
func (r *AppRepo) Search(ctx context.Context, callerID string, f model.Filter, skip, limit int) (model.AppList, error) {
	where, args := searchConditions(callerID, f)

	var total int64
	countQ := `SELECT COUNT(*) FROM app a` + where
	if err := r.db.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return model.AppList{}, fmt.Errorf("count apps: %w", err)
	}

	q := `
SELECT ` + appColumnsQualified + `, u.id, u.name, u.email, u.role, u.profile_image_url
FROM app a LEFT JOIN users u ON u.id = a.user_id` + where + `
ORDER BY ` + orderClause(f)
	if skip > 0 {
		args = append(args, skip)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return model.AppList{}, fmt.Errorf("search apps: %w", err)
	}
	defer rows.Close()

	items := []model.AppWithOwner{}
	for rows.Next() {
		it, err := scanAppWithOwner(rows)
		if err != nil {
			return model.AppList{}, fmt.Errorf("search apps: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return model.AppList{}, fmt.Errorf("search apps: %w", err)
	}
	return model.AppList{Items: items, Total: total}, nil
}

// searchConditions renders the WHERE clause for f, numbering placeholders from $1.
func searchConditions(callerID string, f model.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Query != "" {
		add("a.title ILIKE $%d", "%"+escapeLike(f.Query)+"%")
	}
	if f.UserID != "" {
		add("a.user_id = $%d", f.UserID)
	}
	switch f.ViewOption {
	case model.ViewCreated:
		add("a.user_id = $%d", callerID)
	case model.ViewShared:
		add("a.user_id <> $%d", callerID)
	}
	if f.Tag != "" {
		// matches the quoted tag inside the serialized meta document
		add("lower(a.meta::text) LIKE $%d", `%"`+escapeLike(strings.ToLower(f.Tag))+`"%`)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(f model.Filter) string {
	var col string
	switch f.OrderBy {
	case model.OrderTitle:
		col = "a.title"
	case model.OrderCreatedAt:
		col = "a.created_at"
	case model.OrderUpdatedAt:
		col = "a.updated_at"
	default:
		return "a.created_at DESC"
	}
	if f.Direction == model.DirAsc {
		return col + " ASC"
	}
	return col + " DESC"
}

// Update replaces every form field except id and returns the refreshed row.
func (r *AppRepo) Update(ctx context.Context, id string, form model.AppForm, updatedAt int64) (*model.App, error) {
	params, meta, ac, err := encodeDocs(form.Params, form.Meta, form.AccessControl)
	if err != nil {
		return nil, err
	}
	const q = `
UPDATE app
SET source_chat_id=$2, title=$3, source_code=$4, params=$5, meta=$6, access_control=$7, is_active=$8, updated_at=$9
WHERE id=$1
RETURNING ` + appColumns
	row := r.db.Pool.QueryRow(ctx, q,
		id, form.SourceChatID, form.Title, form.SourceCode,
		params, meta, ac, form.IsActive, updatedAt,
	)
	a, err := scanApp(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("update app %q: %w", id, err)
	}
	return a, nil
}

// Toggle flips is_active in a single statement and returns the refreshed row.
func (r *AppRepo) Toggle(ctx context.Context, id string, updatedAt int64) (*model.App, error) {
	const q = `
UPDATE app
SET is_active = NOT is_active, updated_at=$2
WHERE id=$1
RETURNING ` + appColumns
	a, err := scanApp(r.db.Pool.QueryRow(ctx, q, id, updatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("toggle app %q: %w", id, err)
	}
	return a, nil
}

// Delete removes a single app. Deleting an absent id is not an error.
func (r *AppRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM app WHERE id=$1`
	if _, err := r.db.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("delete app %q: %w", id, err)
	}
	return nil
}

// DeleteAll removes every app.
func (r *AppRepo) DeleteAll(ctx context.Context) error {
	const q = `DELETE FROM app`
	if _, err := r.db.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("delete all apps: %w", err)
	}
	return nil
}

// encodeDocs serializes the JSON columns. A nil rule becomes SQL NULL, an
// empty rule becomes '{}'.
func encodeDocs(p model.Params, m model.Meta, ac *model.AccessControl) (params, meta []byte, rule any, err error) {
	if p == nil {
		p = model.Params{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if params, err = json.Marshal(p); err != nil {
		return nil, nil, nil, fmt.Errorf("encode params: %w", err)
	}
	if meta, err = json.Marshal(m); err != nil {
		return nil, nil, nil, fmt.Errorf("encode meta: %w", err)
	}
	if ac == nil {
		return params, meta, nil, nil
	}
	b, err := json.Marshal(ac)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode access_control: %w", err)
	}
	return params, meta, b, nil
}

func scanApp(row scanner) (*model.App, error) {
	var (
		a                  model.App
		params, meta, rule []byte
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.SourceChatID, &a.Title, &a.SourceCode,
		&params, &meta, &rule, &a.IsActive, &a.UpdatedAt, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := decodeDocs(&a, params, meta, rule); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAppWithOwner(row scanner) (model.AppWithOwner, error) {
	var (
		out                    model.AppWithOwner
		params, meta, rule     []byte
		uid, name, email, role *string
		image                  *string
	)
	a := &out.App
	if err := row.Scan(
		&a.ID, &a.UserID, &a.SourceChatID, &a.Title, &a.SourceCode,
		&params, &meta, &rule, &a.IsActive, &a.UpdatedAt, &a.CreatedAt,
		&uid, &name, &email, &role, &image,
	); err != nil {
		return model.AppWithOwner{}, err
	}
	if err := decodeDocs(a, params, meta, rule); err != nil {
		return model.AppWithOwner{}, err
	}
	if uid != nil {
		out.User = &model.UserProfile{
			ID:              *uid,
			Name:            deref(name),
			Email:           deref(email),
			Role:            deref(role),
			ProfileImageURL: deref(image),
		}
	}
	return out, nil
}

func decodeDocs(a *model.App, params, meta, rule []byte) error {
	a.Params = model.Params{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a.Params); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
		if a.Params == nil {
			a.Params = model.Params{}
		}
	}
	a.Meta = model.DefaultMeta()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
	}
	a.AccessControl = nil
	if len(rule) > 0 && string(rule) != "null" {
		a.AccessControl = &model.AccessControl{}
		if err := json.Unmarshal(rule, a.AccessControl); err != nil {
			return fmt.Errorf("decode access_control: %w", err)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
