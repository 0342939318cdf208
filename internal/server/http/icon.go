package httpserver

import (
	"encoding/base64"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/appshelf/internal/errs"
)

// handleIcon serves an app's icon: absolute URLs redirect, data URLs are
// decoded inline, anything else (including a missing app) falls back to the
// static favicon.
func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	app, err := s.apps.GetByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("icon lookup failed", zap.String("id", id), zap.Error(err))
		}
		s.serveFallbackIcon(w, r)
		return
	}

	url := app.Meta.IconImageURL
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		http.Redirect(w, r, url, http.StatusFound)
		return
	case strings.HasPrefix(url, "data:image"):
		img, err := decodeDataURL(url)
		if err == nil {
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Disposition", "inline; filename=image.png")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(img)
			return
		}
		s.log.Debug("icon data url rejected", zap.String("id", app.ID), zap.Error(err))
	}

	s.serveFallbackIcon(w, r)
}

func (s *Server) serveFallbackIcon(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.opts.StaticDir, fallbackIconName))
}

// decodeDataURL returns the payload of a base64 data URL.
func decodeDataURL(url string) ([]byte, error) {
	_, payload, found := strings.Cut(url, ",")
	if !found {
		return nil, errors.New("data url without payload")
	}
	return base64.StdEncoding.DecodeString(payload)
}
