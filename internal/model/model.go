// Package model defines domain entities used by services and repositories.
package model

import "encoding/json"

// Roles carried by authenticated callers.
const (
	RoleAdmin   = "admin"
	RoleUser    = "user"
	RolePending = "pending"
)

// Access-rule permissions.
const (
	PermRead  = "read"
	PermWrite = "write"
)

// DefaultImageURL is the placeholder used for icon and thumbnail images.
const DefaultImageURL = "/static/favicon.png"

// Params is the schema-less parameter document of an app.
type Params map[string]any

// Grant lists the users and groups a single permission is extended to.
type Grant struct {
	GroupIDs []string `json:"group_ids"`
	UserIDs  []string `json:"user_ids"`
}

// MarshalJSON writes absent id lists as empty arrays.
func (g Grant) MarshalJSON() ([]byte, error) {
	type plain Grant
	return json.Marshal(plain(g.normalized()))
}

// UnmarshalJSON decodes a grant, turning missing or null id lists into empty ones.
func (g *Grant) UnmarshalJSON(b []byte) error {
	type plain Grant
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*g = Grant(out).normalized()
	return nil
}

func (g Grant) normalized() Grant {
	if g.GroupIDs == nil {
		g.GroupIDs = []string{}
	}
	if g.UserIDs == nil {
		g.UserIDs = []string{}
	}
	return g
}

// AccessControl is a per-app access rule.
//
// A nil *AccessControl means public; a non-nil value with no grants ({}) means
// private to the owner. The two must never be conflated.
type AccessControl struct {
	Read  *Grant `json:"read,omitempty"`
	Write *Grant `json:"write,omitempty"`
}

// Meta is the structured metadata document of an app.
type Meta struct {
	IconImageURL      string   `json:"icon_image_url"`
	ThumbnailImageURL string   `json:"thumbnail_image_url"`
	Description       *string  `json:"description"`
	Tags              []string `json:"tags"`
}

// DefaultMeta returns metadata with placeholder images and no tags.
func DefaultMeta() Meta {
	return Meta{
		IconImageURL:      DefaultImageURL,
		ThumbnailImageURL: DefaultImageURL,
		Tags:              []string{},
	}
}

// UnmarshalJSON applies defaults for keys missing from the document.
func (m *Meta) UnmarshalJSON(b []byte) error {
	type plain Meta
	out := plain(DefaultMeta())
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	*m = Meta(out)
	return nil
}

// App is a stored user-authored program.
type App struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	SourceChatID  *string        `json:"source_chat_id"`
	Title         string         `json:"title"`
	SourceCode    string         `json:"source_code"`
	Params        Params         `json:"params"`
	Meta          Meta           `json:"meta"`
	AccessControl *AccessControl `json:"access_control"`
	IsActive      bool           `json:"is_active"`
	UpdatedAt     int64          `json:"updated_at"`
	CreatedAt     int64          `json:"created_at"`
}

// Form converts the app back into an editable form.
func (a App) Form() AppForm {
	return AppForm{
		ID:            a.ID,
		SourceChatID:  a.SourceChatID,
		Title:         a.Title,
		SourceCode:    a.SourceCode,
		Params:        a.Params,
		Meta:          a.Meta,
		AccessControl: a.AccessControl,
		IsActive:      a.IsActive,
	}
}

// AppForm is the client-supplied part of an app (no owner, no timestamps).
type AppForm struct {
	ID            string         `json:"id" validate:"required,max=512"`
	SourceChatID  *string        `json:"source_chat_id"`
	Title         string         `json:"title"`
	SourceCode    string         `json:"source_code"`
	Params        Params         `json:"params"`
	Meta          Meta           `json:"meta"`
	AccessControl *AccessControl `json:"access_control"`
	IsActive      bool           `json:"is_active"`
}

// UnmarshalJSON defaults is_active to true and meta/params to their empty documents.
func (f *AppForm) UnmarshalJSON(b []byte) error {
	type plain AppForm
	out := plain{IsActive: true, Meta: DefaultMeta()}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if out.Params == nil {
		out.Params = Params{}
	}
	*f = AppForm(out)
	return nil
}

// UserProfile is the public part of a user account.
type UserProfile struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	ProfileImageURL string `json:"profile_image_url"`
}

// AppWithOwner is an app joined with its owner's profile, if the owner still exists.
type AppWithOwner struct {
	App
	User *UserProfile `json:"user"`
}

// AppList is a page of search results plus the unpaginated total.
type AppList struct {
	Items []AppWithOwner `json:"items"`
	Total int64          `json:"total"`
}

// View options accepted by Filter.ViewOption.
const (
	ViewCreated = "created"
	ViewShared  = "shared"
)

// Sort keys and directions accepted by Filter.
const (
	OrderTitle     = "title"
	OrderCreatedAt = "created_at"
	OrderUpdatedAt = "updated_at"

	DirAsc  = "asc"
	DirDesc = "desc"
)

// Filter narrows a search. Empty fields are not applied.
type Filter struct {
	Query      string
	UserID     string
	ViewOption string
	Tag        string
	OrderBy    string
	Direction  string
}

// Group is a named set of users carrying a permissions document.
type Group struct {
	ID          string
	Name        string
	Permissions map[string]any
}

// Caller is the authenticated principal of a request.
type Caller struct {
	ID   string
	Role string
}

// IsAdmin reports whether the caller holds the administrator role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
