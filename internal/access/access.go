// Package access implements the per-app access rule and the dotted
// permission lookup used to gate workspace operations.
package access

import (
	"slices"
	"strings"

	"github.com/and161185/appshelf/internal/model"
)

// HasAccess reports whether userID holds permission ("read" or "write") under rule.
// A nil rule is public. A rule without a grant for permission admits nobody;
// ownership is checked by callers, not here.
func HasAccess(userID, permission string, rule *model.AccessControl, groupIDs []string) bool {
	if rule == nil {
		return true
	}
	var g *model.Grant
	switch permission {
	case model.PermRead:
		g = rule.Read
	case model.PermWrite:
		g = rule.Write
	}
	if g == nil {
		return false
	}
	if slices.Contains(g.UserIDs, userID) {
		return true
	}
	for _, id := range g.GroupIDs {
		if slices.Contains(groupIDs, id) {
			return true
		}
	}
	return false
}

// GroupIDs extracts ids from groups.
func GroupIDs(groups []model.Group) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ID)
	}
	return out
}

// HasPermission resolves a dotted key such as "workspace.apps" against the
// caller's groups first and the defaults second. Any group granting the key wins.
func HasPermission(key string, groups []model.Group, defaults map[string]any) bool {
	path := strings.Split(key, ".")
	for _, g := range groups {
		if lookup(g.Permissions, path) {
			return true
		}
	}
	return lookup(defaults, path)
}

func lookup(doc map[string]any, path []string) bool {
	var cur any = doc
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = m[k]; !ok {
			return false
		}
	}
	v, ok := cur.(bool)
	return ok && v
}
