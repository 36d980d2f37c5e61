package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/portal/internal/configfile"
	"github.com/marcus/portal/internal/serverdb"
)

// Route paths.
const (
	configPath    = "/config.json"
	schemaPath    = "/config.schema.json"
	savePath      = "/save-config"
	saveAliasPath = "/save-config.ashx"
)

// Server is the portal origin: static shell, configuration document and
// save endpoint.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	file        *configfile.File
	metrics     *Metrics
	rateLimiter *RateLimiter
	now         func() time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewServer creates a new Server with the given config and audit store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateLimitSave <= 0 {
		cfg.RateLimitSave = 30
	}
	s := &Server{
		config:      cfg,
		store:       store,
		file:        configfile.New(cfg.ConfigPath),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		now:         time.Now,
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking). It returns the
// bound address, which differs from ListenAddr when the port is 0.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.maintain(ctx)

	return ln.Addr(), nil
}

// maintain prunes rate limiter buckets and expired audit rows.
func (s *Server) maintain(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("maintenance panic", "panic", r)
		}
	}()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Server) cleanup() {
	s.rateLimiter.cleanup()
	if s.store == nil {
		return
	}
	if n, err := s.store.CleanupSaveEvents(s.config.SaveEventRetention); err != nil {
		slog.Error("cleanup save events", "err", err)
	} else if n > 0 {
		slog.Info("cleaned up save events", "count", n)
	}
	if n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention); err != nil {
		slog.Error("cleanup rate limit events", "err", err)
	} else if n > 0 {
		slog.Info("cleaned up rate limit events", "count", n)
	}
}

// Shutdown gracefully stops the server and its maintenance loop.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Configuration
	mux.HandleFunc("GET "+configPath, s.handleGetConfig)
	mux.HandleFunc("GET "+schemaPath, s.handleSchema)
	mux.HandleFunc(savePath, s.handleSave)
	mux.HandleFunc(saveAliasPath, s.handleSave)

	// Portal shell
	mux.Handle("/", s.staticHandler())

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		observeMiddleware(s.metrics),
		s.CORSMiddleware,
		maxBytesMiddleware(s.config.MaxBodyBytes),
	)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
			return
		}
		if last, err := s.store.LastSave(); err == nil && last != nil {
			resp["last_save"] = last.CreatedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
