package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/appshelf/internal/model"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// GroupsByMember selects the groups whose member list contains userID.
func (r *GroupRepo) GroupsByMember(ctx context.Context, userID string) ([]model.Group, error) {
	const q = `
SELECT id, name, permissions
FROM groups
WHERE user_ids @> jsonb_build_array($1::text)
ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("groups of %q: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		var (
			g     model.Group
			perms []byte
		)
		if err := rows.Scan(&g.ID, &g.Name, &perms); err != nil {
			return nil, fmt.Errorf("groups of %q: %w", userID, err)
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &g.Permissions); err != nil {
				return nil, fmt.Errorf("group %q permissions: %w", g.ID, err)
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
