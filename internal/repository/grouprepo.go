// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/appshelf/internal/model"
)

// GroupRepository resolves group membership.
type GroupRepository interface {
	// GroupsByMember returns the groups that list userID as a member.
	GroupsByMember(ctx context.Context, userID string) ([]model.Group, error)
}
