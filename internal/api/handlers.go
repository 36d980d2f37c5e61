package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/marcus/portal/internal/configfile"
	"github.com/marcus/portal/internal/portal"
)

// handleGetConfig serves the configuration document as stored.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.file.Read()
	if errors.Is(err, configfile.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no configuration has been saved")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("read config", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read configuration")
		return
	}
	s.metrics.RecordConfigRead()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleSchema serves the JSON Schema of the configuration document.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, portal.Schema())
}

// staticHandler serves the portal shell from WebRoot.
func (s *Server) staticHandler() http.Handler {
	var files http.Handler = http.NotFoundHandler()
	if s.config.WebRoot != "" {
		files = http.FileServer(http.Dir(s.config.WebRoot))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		if s.config.WebRoot == "" || strings.Contains(r.URL.Path, "..") {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
			return
		}
		if _, err := os.Stat(s.config.WebRoot); err != nil {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}
