package worker

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
)

// Control endpoints served by Handler in front of the proxied origin.
const (
	MessagePath = "/__worker/message"
	StatePath   = "/__worker/state"
)

const maxMessageBytes = 1 << 20

// State is the body of GET /__worker/state.
type State struct {
	Origin         string   `json:"origin"`
	OverrideActive bool     `json:"override_active"`
	Caches         []string `json:"caches"`
}

// Handler serves the worker's control endpoints and proxies every other
// request to the origin through the worker's caches.
func (w *Worker) Handler() http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(w.origin)
			pr.SetXForwarded()
		},
		Transport: w,
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			w.logger.Warn("proxy error", "path", r.URL.Path, "err", err)
			writeJSON(rw, http.StatusBadGateway, Reply{Error: "origin unavailable"})
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+MessagePath, w.handleMessage)
	mux.HandleFunc("GET "+StatePath, w.handleState)
	mux.Handle("/", proxy)
	return mux
}

func (w *Worker) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		writeJSON(rw, http.StatusBadRequest, Reply{Error: "invalid message: " + err.Error()})
		return
	}
	reply, err := w.Post(r.Context(), msg)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, Reply{ID: msg.ID, Error: err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, reply)
}

func (w *Worker) handleState(rw http.ResponseWriter, r *http.Request) {
	active, err := w.OverrideActive(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, Reply{Error: err.Error()})
		return
	}
	caches, err := w.cache.Caches(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, Reply{Error: err.Error()})
		return
	}
	if caches == nil {
		caches = []string{}
	}
	writeJSON(rw, http.StatusOK, State{
		Origin:         w.origin.String(),
		OverrideActive: active,
		Caches:         caches,
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
