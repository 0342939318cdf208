package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/and161185/appshelf/internal/errs"
	"github.com/and161185/appshelf/internal/model"
)

type idRequest struct {
	ID string `json:"id"`
}

type importRequest struct {
	Apps json.RawMessage `json:"apps"`
}

// caller is set by authenticate for every route under /api/v1/apps.
func caller(r *http.Request) model.Caller {
	c, _ := CallerFromCtx(r.Context())
	return c
}

// listFilter builds a search filter from query parameters.
func listFilter(r *http.Request) (model.Filter, int) {
	q := r.URL.Query()
	f := model.Filter{
		Query:      q.Get("query"),
		ViewOption: q.Get("view_option"),
		Tag:        q.Get("tag"),
		OrderBy:    q.Get("order_by"),
		Direction:  q.Get("direction"),
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	page = min(page, math.MaxInt/PageSize)
	return f, (page - 1) * PageSize
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	f, skip := listFilter(r)
	if !s.bypass(c) {
		f.UserID = c.ID
	}

	res, err := s.apps.Search(r.Context(), c.ID, f, skip, PageSize)
	if err != nil {
		s.log.Error("search apps", zap.String("user_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
		return
	}
	if res.Items == nil {
		res.Items = []model.AppWithOwner{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	tags, err := s.apps.Tags(r.Context(), c.ID, s.bypass(c))
	if err != nil {
		s.log.Error("list tags", zap.String("user_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// permitted resolves a workspace permission and writes 401 when it is missing.
func (s *Server) permitted(w http.ResponseWriter, r *http.Request, key string) bool {
	ok, err := s.apps.HasPermission(r.Context(), caller(r), key)
	if err != nil {
		s.log.Error("resolve permission", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
		return false
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.permitted(w, r, PermWorkspaceApps) {
		return
	}
	var form model.AppForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	app, err := s.apps.Create(r.Context(), form, caller(r).ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, app)
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusUnauthorized, msgIDTaken)
	default:
		writeError(w, http.StatusUnauthorized, msgDefault)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.permitted(w, r, PermModelsExport) {
		return
	}
	c := caller(r)

	var (
		apps []model.App
		err  error
	)
	if s.bypass(c) {
		apps, err = s.apps.ListAll(r.Context())
	} else {
		apps, err = s.apps.ListAccessibleTo(r.Context(), c.ID, model.PermWrite)
	}
	if err != nil {
		s.log.Error("export apps", zap.String("user_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
		return
	}
	if apps == nil {
		apps = []model.App{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.permitted(w, r, PermModelsImport) {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	var items []map[string]any
	if err := json.Unmarshal(req.Apps, &items); err != nil || items == nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	if err := s.apps.Import(r.Context(), caller(r).ID, items); err != nil {
		s.log.Warn("import apps", zap.Int("count", len(items)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// loadApp fetches an app, writing 401 for absent apps and 500 for storage faults.
func (s *Server) loadApp(w http.ResponseWriter, r *http.Request, id string) (*model.App, bool) {
	app, err := s.apps.GetByID(r.Context(), id)
	switch {
	case err == nil:
		return app, true
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusUnauthorized, msgNotFound)
	default:
		s.log.Error("load app", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
	}
	return nil, false
}

// canWrite is true for admins, the owner, or a write grant.
func (s *Server) canWrite(w http.ResponseWriter, r *http.Request, app *model.App) (bool, bool) {
	c := caller(r)
	if c.IsAdmin() {
		return true, true
	}
	ok, err := s.apps.CanAccess(r.Context(), c, app, model.PermWrite)
	if err != nil {
		s.log.Error("resolve access", zap.String("id", app.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgDefault)
		return false, false
	}
	return ok, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	app, ok := s.loadApp(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	c := caller(r)
	if !s.bypass(c) {
		allowed, err := s.apps.CanAccess(r.Context(), c, app, model.PermRead)
		if err != nil {
			s.log.Error("resolve access", zap.String("id", app.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgDefault)
			return
		}
		if !allowed {
			writeError(w, http.StatusUnauthorized, msgNotFound)
			return
		}
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	app, ok := s.loadApp(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	allowed, ok := s.canWrite(w, r, app)
	if !ok {
		return
	}
	if !allowed {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	updated, err := s.apps.Toggle(r.Context(), app.ID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Error("toggle app", zap.String("id", app.ID), zap.Error(err))
		}
		writeError(w, http.StatusBadRequest, msgToggleFailed)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleUpdate takes the app id from the body; a non-empty ?id= overrides it.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var form model.AppForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	id := form.ID
	if q := r.URL.Query().Get("id"); q != "" {
		id = q
	}

	app, ok := s.loadApp(w, r, id)
	if !ok {
		return
	}
	allowed, ok := s.canWrite(w, r, app)
	if !ok {
		return
	}
	if !allowed {
		writeError(w, http.StatusBadRequest, msgAccessProhibited)
		return
	}
	form.ID = app.ID

	updated, err := s.apps.Update(r.Context(), app.ID, form)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, msgUpdateFailed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	app, ok := s.loadApp(w, r, req.ID)
	if !ok {
		return
	}
	allowed, ok := s.canWrite(w, r, app)
	if !ok {
		return
	}
	if !allowed {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	done, err := s.apps.DeleteByID(r.Context(), app.ID)
	if err != nil {
		s.log.Error("delete app", zap.String("id", app.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	done, err := s.apps.DeleteAll(r.Context())
	if err != nil {
		s.log.Error("delete all apps", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, done)
}
