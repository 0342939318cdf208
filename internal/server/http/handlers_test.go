package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/appshelf/internal/errs"
	"github.com/and161185/appshelf/internal/model"
	"github.com/and161185/appshelf/internal/service"
)

var testKey = []byte("test-sign-key")

// stubApps is an in-memory AppService recording what handlers ask of it.
type stubApps struct {
	apps   map[string]model.App
	denied map[string]bool // permission keys refused to non-admins

	getErr    error
	createErr error
	toggleErr error
	importErr error

	searchCaller string
	searchFilter model.Filter
	searchSkip   int
	searchLimit  int

	accessiblePerm string
	imported       []map[string]any
}

var _ service.AppService = (*stubApps)(nil)

func newStub(apps ...model.App) *stubApps {
	s := &stubApps{apps: map[string]model.App{}, denied: map[string]bool{}}
	for _, a := range apps {
		s.apps[a.ID] = a
	}
	return s
}

func (s *stubApps) Create(_ context.Context, f model.AppForm, owner string) (*model.App, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if f.ID == "" {
		return nil, errs.ErrValidation
	}
	if _, ok := s.apps[f.ID]; ok {
		return nil, errs.ErrAlreadyExists
	}
	a := model.App{ID: f.ID, UserID: owner, Title: f.Title, Meta: f.Meta, AccessControl: f.AccessControl, IsActive: f.IsActive}
	s.apps[a.ID] = a
	return &a, nil
}

func (s *stubApps) GetByID(_ context.Context, id string) (*model.App, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	a, ok := s.apps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (s *stubApps) ListAll(context.Context) ([]model.App, error) {
	out := make([]model.App, 0, len(s.apps))
	for _, a := range s.apps {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.App) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *stubApps) ListAccessibleTo(ctx context.Context, userID, perm string) ([]model.App, error) {
	s.accessiblePerm = perm
	all, _ := s.ListAll(ctx)
	var out []model.App
	for _, a := range all {
		if ok, _ := s.CanAccess(ctx, model.Caller{ID: userID}, &a, perm); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubApps) Search(_ context.Context, callerID string, f model.Filter, skip, limit int) (model.AppList, error) {
	s.searchCaller, s.searchFilter, s.searchSkip, s.searchLimit = callerID, f, skip, limit
	return model.AppList{Total: 0}, nil
}

func (s *stubApps) Toggle(_ context.Context, id string) (*model.App, error) {
	if s.toggleErr != nil {
		return nil, s.toggleErr
	}
	a := s.apps[id]
	a.IsActive = !a.IsActive
	s.apps[id] = a
	return &a, nil
}

func (s *stubApps) Update(_ context.Context, id string, f model.AppForm) (*model.App, error) {
	a := s.apps[id]
	a.Title = f.Title
	s.apps[id] = a
	return &a, nil
}

func (s *stubApps) DeleteByID(_ context.Context, id string) (bool, error) {
	delete(s.apps, id)
	return true, nil
}

func (s *stubApps) DeleteAll(context.Context) (bool, error) {
	clear(s.apps)
	return true, nil
}

func (s *stubApps) Tags(context.Context, string, bool) ([]string, error) {
	return []string{"a", "b"}, nil
}

func (s *stubApps) Import(_ context.Context, _ string, items []map[string]any) error {
	s.imported = items
	return s.importErr
}

func (s *stubApps) CanAccess(_ context.Context, c model.Caller, a *model.App, perm string) (bool, error) {
	if a.UserID == c.ID || a.AccessControl == nil {
		return true, nil
	}
	g := a.AccessControl.Read
	if perm == model.PermWrite {
		g = a.AccessControl.Write
	}
	return g != nil && slices.Contains(g.UserIDs, c.ID), nil
}

func (s *stubApps) HasPermission(_ context.Context, c model.Caller, key string) (bool, error) {
	return c.IsAdmin() || !s.denied[key], nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T, apps *stubApps, bypass bool) http.Handler {
	t.Helper()
	return New(apps, nil, Options{
		SignKey:                  testKey,
		BypassAdminAccessControl: bypass,
		StaticDir:                t.TempDir(),
	}, zaptest.NewLogger(t)).Routes()
}

func do(t *testing.T, h http.Handler, method, target, sub, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+makeJWT(t, sub, role, testKey, jwt.SigningMethodHS256, time.Now(), time.Hour))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func private(id, owner string) model.App {
	return model.App{ID: id, UserID: owner, Title: id, Meta: model.DefaultMeta(), AccessControl: &model.AccessControl{}, IsActive: true}
}

func TestAuth_RejectsMissingAndUnverified(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, newStub(), false)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/list", "", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgNotAuthenticated, decodeError(t, rec).Detail)

	rec = do(t, h, http.MethodGet, "/api/v1/apps/list", "u1", model.RolePending, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgUnauthorized, decodeError(t, rec).Detail)
}

func TestList_ForcesOwnerForNonBypass(t *testing.T) {
	t.Parallel()
	stub := newStub()
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/list?query=calc&tag=Math&view_option=shared&order_by=title&direction=asc&page=3", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[],"total":0}`, rec.Body.String())

	require.Equal(t, "u1", stub.searchCaller)
	require.Equal(t, model.Filter{
		Query: "calc", UserID: "u1", ViewOption: "shared", Tag: "Math", OrderBy: "title", Direction: "asc",
	}, stub.searchFilter)
	require.Equal(t, 60, stub.searchSkip)
	require.Equal(t, PageSize, stub.searchLimit)

	// admin without the bypass flag is restricted as well
	do(t, h, http.MethodGet, "/api/v1/apps/list?page=0", "adm", model.RoleAdmin, "")
	require.Equal(t, "adm", stub.searchFilter.UserID)
	require.Equal(t, 0, stub.searchSkip)
}

func TestList_HugePageIsPastTheEnd(t *testing.T) {
	t.Parallel()
	stub := newStub()
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/list?page=9223372036854775807", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Positive(t, stub.searchSkip)
	require.Equal(t, (math.MaxInt/PageSize-1)*PageSize, stub.searchSkip)
}

func TestList_BypassAdminSeesAll(t *testing.T) {
	t.Parallel()
	stub := newStub()
	h := newTestServer(t, stub, true)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/list?page=bogus", "adm", model.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, stub.searchFilter.UserID)
	require.Equal(t, 0, stub.searchSkip)
}

func TestGet(t *testing.T) {
	t.Parallel()
	stub := newStub(private("a1", "u1"))
	h := newTestServer(t, stub, true)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/app?id=a1", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.App
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "a1", got.ID)
	require.NotNil(t, got.AccessControl)

	rec = do(t, h, http.MethodGet, "/api/v1/apps/app?id=a1", "u2", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgNotFound, decodeError(t, rec).Detail)

	rec = do(t, h, http.MethodGet, "/api/v1/apps/app?id=a1", "adm", model.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/apps/app?id=missing", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	stub.getErr = errors.New("conn reset")
	rec = do(t, h, http.MethodGet, "/api/v1/apps/app?id=a1", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreate(t *testing.T) {
	t.Parallel()
	stub := newStub()
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodPost, "/api/v1/apps/create", "u1", model.RoleUser, `{"id":"a1","title":"Calc","source_code":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.App
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "u1", got.UserID)
	require.True(t, got.IsActive)
	require.Equal(t, model.DefaultImageURL, got.Meta.IconImageURL)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/create", "u2", model.RoleUser, `{"id":"a1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgIDTaken, decodeError(t, rec).Detail)
	require.Equal(t, "u1", stub.apps["a1"].UserID)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/create", "u1", model.RoleUser, `{"title":"no id"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/create", "u1", model.RoleUser, `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	stub.createErr = errors.New("insert failed")
	rec = do(t, h, http.MethodPost, "/api/v1/apps/create", "u1", model.RoleUser, `{"id":"a2"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgDefault, decodeError(t, rec).Detail)
}

func TestCreate_RequiresPermission(t *testing.T) {
	t.Parallel()
	stub := newStub()
	stub.denied[PermWorkspaceApps] = true
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodPost, "/api/v1/apps/create", "u1", model.RoleUser, `{"id":"a1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, stub.apps)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/create", "adm", model.RoleAdmin, `{"id":"a1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExport(t *testing.T) {
	t.Parallel()
	stub := newStub(private("a1", "u1"), private("a2", "u2"))

	h := newTestServer(t, stub, false)
	rec := do(t, h, http.MethodGet, "/api/v1/apps/export", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.App
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, model.PermWrite, stub.accessiblePerm)

	h = newTestServer(t, stub, true)
	rec = do(t, h, http.MethodGet, "/api/v1/apps/export", "adm", model.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)

	stub.denied[PermModelsExport] = true
	h = newTestServer(t, stub, false)
	rec = do(t, h, http.MethodGet, "/api/v1/apps/export", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImport(t *testing.T) {
	t.Parallel()
	stub := newStub()
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodPost, "/api/v1/apps/import", "u1", model.RoleUser, `{"apps":[{"id":"a1","title":"x"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true\n", rec.Body.String())
	require.Len(t, stub.imported, 1)
	require.Equal(t, "a1", stub.imported[0]["id"])

	rec = do(t, h, http.MethodPost, "/api/v1/apps/import", "u1", model.RoleUser, `{"apps":{"id":"a1"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, msgInvalidJSON, decodeError(t, rec).Detail)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/import", "u1", model.RoleUser, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	stub.importErr = errors.New("item[0]: validation failed")
	rec = do(t, h, http.MethodPost, "/api/v1/apps/import", "u1", model.RoleUser, `{"apps":[{}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "item[0]: validation failed", decodeError(t, rec).Detail)
}

func TestToggle(t *testing.T) {
	t.Parallel()
	stub := newStub(private("a1", "u1"))
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodPost, "/api/v1/apps/app/toggle?id=a1", "u2", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.True(t, stub.apps["a1"].IsActive)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/toggle?id=a1", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, stub.apps["a1"].IsActive)

	// admins act on any app regardless of the bypass flag
	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/toggle?id=a1", "adm", model.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, stub.apps["a1"].IsActive)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/toggle?id=nope", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	stub.toggleErr = errors.New("flip failed")
	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/toggle?id=a1", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	shared := private("a2", "u1")
	shared.AccessControl = &model.AccessControl{Write: &model.Grant{UserIDs: []string{"u3"}}}
	stub := newStub(private("a1", "u1"), shared)
	h := newTestServer(t, stub, false)

	// id taken from the body, no query string
	rec := do(t, h, http.MethodPost, "/api/v1/apps/app/update", "u1", model.RoleUser, `{"id":"a1","title":"renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "renamed", stub.apps["a1"].Title)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/update", "u2", model.RoleUser, `{"id":"a1","title":"hijack"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, msgAccessProhibited, decodeError(t, rec).Detail)
	require.Equal(t, "renamed", stub.apps["a1"].Title)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/update", "u1", model.RoleUser, `{"id":"missing"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/update", "u1", model.RoleUser, `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// a non-empty ?id= overrides the body id
	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/update?id=a2", "u3", model.RoleUser, `{"id":"a1","title":"shared edit"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "shared edit", stub.apps["a2"].Title)
	require.Equal(t, "renamed", stub.apps["a1"].Title)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	stub := newStub(private("a1", "u1"))
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodPost, "/api/v1/apps/app/delete", "u2", model.RoleUser, `{"id":"a1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, stub.apps, "a1")

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/delete", "u1", model.RoleUser, `{"id":"a1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true\n", rec.Body.String())
	require.NotContains(t, stub.apps, "a1")

	rec = do(t, h, http.MethodPost, "/api/v1/apps/app/delete", "u1", model.RoleUser, `{"id":"a1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteAll_AdminOnly(t *testing.T) {
	t.Parallel()
	stub := newStub(private("a1", "u1"))
	h := newTestServer(t, stub, false)

	rec := do(t, h, http.MethodDelete, "/api/v1/apps/delete/all", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Len(t, stub.apps, 1)

	rec = do(t, h, http.MethodDelete, "/api/v1/apps/delete/all", "adm", model.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, stub.apps)
}

func TestTags(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, newStub(), false)

	rec := do(t, h, http.MethodGet, "/api/v1/apps/tags", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `["a","b"]`, rec.Body.String())
}

func TestIcon(t *testing.T) {
	t.Parallel()
	png := []byte{0x89, 'P', 'N', 'G'}
	withIcon := func(id, url string) model.App {
		a := private(id, "u1")
		a.Meta.IconImageURL = url
		return a
	}
	stub := newStub(
		withIcon("remote", "https://cdn.example.com/i.png"),
		withIcon("inline", "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png)),
		withIcon("broken", "data:image/png;base64,@@@"),
		withIcon("local", "/static/favicon.png"),
	)
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, fallbackIconName), []byte("fallback"), 0o600))
	h := New(stub, nil, Options{SignKey: testKey, StaticDir: static}, zaptest.NewLogger(t)).Routes()

	rec := do(t, h, http.MethodGet, "/api/v1/apps/app/icon/image?id=remote", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://cdn.example.com/i.png", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/api/v1/apps/app/icon/image?id=inline", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "inline; filename=image.png", rec.Header().Get("Content-Disposition"))
	require.Equal(t, png, rec.Body.Bytes())

	for _, id := range []string{"broken", "local"} {
		rec = do(t, h, http.MethodGet, "/api/v1/apps/app/icon/image?id="+id, "u1", model.RoleUser, "")
		require.Equal(t, http.StatusOK, rec.Code, id)
		require.Equal(t, "fallback", rec.Body.String(), id)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/apps/app/icon/image?id=missing", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fallback", rec.Body.String())

	stub.getErr = errors.New("conn reset")
	rec = do(t, h, http.MethodGet, "/api/v1/apps/app/icon/image?id=remote", "u1", model.RoleUser, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fallback", rec.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)

	h := New(newStub(), nil, Options{}, log).Routes()
	rec := do(t, h, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/readyz", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h = New(newStub(), failingPinger{}, Options{}, log).Routes()
	rec = do(t, h, http.MethodGet, "/readyz", "", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
