// Package worker is the edge cache worker: an http.RoundTripper that sits in
// front of the origin, keeps an app-shell cache and a configuration cache, and
// can be told over a message channel to serve a pushed configuration override
// in place of the origin's.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marcus/portal/internal/cachestore"
)

// Cache names. Bumping a version drops the old cache on the next Activate.
const (
	ShellCache  = "portal-shell-v1"
	ConfigCache = "portal-config-v1"
)

const (
	// ConfigPath is the configuration resource.
	ConfigPath = "/config.json"
	// OverrideHeader marks a configuration response served from an override.
	OverrideHeader = "X-Portal-Config-Override"
)

// DefaultShell is the app-shell precached on Install.
var DefaultShell = []string{
	"/",
	"/index.html",
	"/admin.html",
	"/styles.css",
	"/manifest.json",
	"/images/logo.svg",
	"/images/background.svg",
	"/scripts/main.js",
	"/scripts/admin.js",
	"/scripts/portal-utils.js",
}

// ErrStopped is returned when posting to a worker that is not running.
var ErrStopped = errors.New("worker is not running")

// Config configures a Worker.
type Config struct {
	Origin  *url.URL
	Network http.RoundTripper // defaults to http.DefaultTransport
	Cache   *cachestore.Store
	Shell   []string // defaults to DefaultShell
	Logger  *slog.Logger
}

// Worker intercepts requests to Origin.
type Worker struct {
	origin  *url.URL
	network http.RoundTripper
	cache   *cachestore.Store
	shell   []string
	logger  *slog.Logger

	// configMu orders override writes against cache refreshes from the
	// network so a late network response never replaces an override.
	configMu sync.Mutex

	msgs      chan envelope
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

type envelope struct {
	ctx   context.Context
	msg   Message
	reply chan<- Reply
}

// New returns a stopped worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Origin == nil {
		return nil, errors.New("worker: origin is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("worker: cache store is required")
	}
	w := &Worker{
		origin:  cfg.Origin,
		network: cfg.Network,
		cache:   cfg.Cache,
		shell:   cfg.Shell,
		logger:  cfg.Logger,
		msgs:    make(chan envelope, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if w.network == nil {
		w.network = http.DefaultTransport
	}
	if w.shell == nil {
		w.shell = DefaultShell
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Origin returns the origin the worker fronts.
func (w *Worker) Origin() *url.URL { return w.origin }

// Install precaches the app shell. Either every shell asset is fetched and
// stored, or Install fails and nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	entries := make([]cachestore.Entry, 0, len(w.shell))
	for _, p := range w.shell {
		u := w.origin.ResolveReference(&url.URL{Path: p})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("install %s: %w", p, err)
		}
		resp, err := w.network.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("install %s: %w", p, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("install %s: %w", p, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("install %s: status %d", p, resp.StatusCode)
		}
		entries = append(entries, cachestore.Entry{
			Cache:  ShellCache,
			Key:    cacheKey(u),
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   body,
		})
	}
	for _, e := range entries {
		if err := w.cache.Put(ctx, e); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}
	w.logger.Info("worker installed", "shell_assets", len(entries), "cache", ShellCache)
	return nil
}

// Activate deletes caches left behind by other versions.
func (w *Worker) Activate(ctx context.Context) error {
	names, err := w.cache.Caches(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, name := range names {
		if name == ShellCache || name == ConfigCache {
			continue
		}
		if _, err := w.cache.DeleteCache(ctx, name); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		w.logger.Info("dropped stale cache", "cache", name)
	}
	return nil
}

// Start launches the message loop.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.loop()
	})
}

// Stop ends the message loop and waits for it. Messages still queued are
// answered with ErrStopped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
	})
}

// PostMessage queues msg. The reply is delivered on reply when the message
// has been processed; reply should have room for one value.
func (w *Worker) PostMessage(msg Message, reply chan<- Reply) {
	w.enqueue(context.Background(), msg, reply)
}

// Post sends msg and waits for its acknowledgment.
func (w *Worker) Post(ctx context.Context, msg Message) (Reply, error) {
	reply := make(chan Reply, 1)
	if err := w.enqueue(ctx, msg, reply); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (w *Worker) enqueue(ctx context.Context, msg Message, reply chan<- Reply) error {
	select {
	case <-w.stop:
		sendReply(reply, Reply{ID: msg.ID, Error: ErrStopped.Error()})
		return ErrStopped
	default:
	}
	select {
	case w.msgs <- envelope{ctx: ctx, msg: msg, reply: reply}:
		return nil
	case <-w.stop:
		sendReply(reply, Reply{ID: msg.ID, Error: ErrStopped.Error()})
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.drain()
			return
		case env := <-w.msgs:
			sendReply(env.reply, w.handle(env.ctx, env.msg))
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case env := <-w.msgs:
			sendReply(env.reply, Reply{ID: env.msg.ID, Error: ErrStopped.Error()})
		default:
			return
		}
	}
}

func sendReply(ch chan<- Reply, r Reply) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) Reply {
	reply := Reply{ID: msg.ID}
	var err error
	switch msg.Type {
	case MessageUpdate:
		err = w.installOverride(ctx, msg.Payload)
	case MessageClear:
		err = w.clearOverride(ctx)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		w.logger.Warn("worker message failed", "type", msg.Type, "id", msg.ID, "err", err)
		reply.Error = err.Error()
		return reply
	}
	w.logger.Debug("worker message applied", "type", msg.Type, "id", msg.ID)
	reply.Success = true
	return reply
}

func (w *Worker) installOverride(ctx context.Context, payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return errors.New("payload is required")
	}
	var obj map[string]any
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &obj) != nil {
		return errors.New("payload must be a JSON object")
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set(OverrideHeader, "true")

	w.configMu.Lock()
	defer w.configMu.Unlock()
	return w.cache.Put(ctx, cachestore.Entry{
		Cache:  ConfigCache,
		Key:    ConfigPath,
		Status: http.StatusOK,
		Header: h,
		Body:   trimmed,
	})
}

func (w *Worker) clearOverride(ctx context.Context) error {
	w.configMu.Lock()
	defer w.configMu.Unlock()
	_, err := w.cache.Delete(ctx, ConfigCache, ConfigPath)
	return err
}

// OverrideActive reports whether configuration requests are currently
// served from an override.
func (w *Worker) OverrideActive(ctx context.Context) (bool, error) {
	e, err := w.cache.Match(ctx, ConfigCache, ConfigPath)
	if err != nil {
		return false, err
	}
	return isOverride(e), nil
}

func isOverride(e *cachestore.Entry) bool {
	return e != nil && e.Header.Get(OverrideHeader) == "true"
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

func (w *Worker) isShell(u *url.URL) bool {
	return slices.Contains(w.shell, cacheKey(u))
}

func isConfigPath(p string) bool {
	return p == ConfigPath || strings.HasSuffix(p, ConfigPath)
}

// cacheKey is the request path; the query string is ignored.
func cacheKey(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
