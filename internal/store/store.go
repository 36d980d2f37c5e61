// Package store is the configuration store client of one portal context. It
// layers the locally persisted override on top of the server's base
// configuration, accepts edits, commits them to the server and keeps every
// context on the host converged through storage events.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/marcus/portal/internal/events"
	"github.com/marcus/portal/internal/localstore"
	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/portalclient"
	"github.com/marcus/portal/internal/worker"
)

// Client is the origin server as seen by the store.
type Client interface {
	FetchConfig(ctx context.Context) (portal.Config, error)
	SaveConfig(ctx context.Context, auth portal.Credential, cfg portal.Config) (*portalclient.SaveResponse, error)
}

// Controller delivers control messages to a cache worker. Both
// *worker.Worker and *portalclient.WorkerClient implement it.
type Controller interface {
	Post(ctx context.Context, msg worker.Message) (worker.Reply, error)
}

// Options configures a Store.
type Options struct {
	Client     Client
	Local      *localstore.Store
	Bus        *events.Bus[events.StorageEvent] // storage events from other contexts; optional
	Controller Controller                       // optional
	Defaults   func() portal.Config             // defaults to portal.DefaultConfig
	Logger     *slog.Logger

	// ReloadTimeout bounds the reload triggered by another context's commit.
	ReloadTimeout time.Duration
}

// Store is safe for concurrent use.
type Store struct {
	id            string
	client        Client
	local         *localstore.Store
	controller    Controller
	defaults      func() portal.Config
	logger        *slog.Logger
	reloadTimeout time.Duration

	mu     sync.RWMutex
	base   portal.Config
	loaded bool

	// editMu serializes read-modify-write cycles on the override.
	editMu sync.Mutex
	// commitMu queues commits so two saves never race to become the base.
	commitMu sync.Mutex
	flight   singleflight.Group

	observers   *events.Bus[portal.Config]
	unsubscribe func()
}

// New creates a store. Until Load succeeds the base is the default
// configuration.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("store: client is required")
	}
	if opts.Local == nil {
		return nil, errors.New("store: local storage is required")
	}
	s := &Store{
		id:            uuid.NewString(),
		client:        opts.Client,
		local:         opts.Local,
		controller:    opts.Controller,
		defaults:      opts.Defaults,
		logger:        opts.Logger,
		reloadTimeout: opts.ReloadTimeout,
		observers:     events.NewBus[portal.Config](),
	}
	if s.defaults == nil {
		s.defaults = portal.DefaultConfig
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.reloadTimeout <= 0 {
		s.reloadTimeout = 30 * time.Second
	}
	s.logger = s.logger.With("context", s.id)
	s.base = s.defaults()
	if opts.Bus != nil {
		s.unsubscribe = opts.Bus.Subscribe(s.handleStorage)
	}
	return s, nil
}

// ID identifies this context in logs.
func (s *Store) ID() string { return s.id }

// Close detaches the store from storage events.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Subscribe registers fn to receive the effective configuration whenever it
// may have changed: after edits, resets, commits, reloads and edits made by
// other contexts.
func (s *Store) Subscribe(fn func(portal.Config)) (cancel func()) {
	return s.observers.Subscribe(fn)
}

// Load fetches the base configuration and layers it over the defaults.
// When the fetch fails the current base is kept (the defaults on a first
// load) and returned together with a *ConfigLoadError; the store stays
// usable. Concurrent calls share one fetch.
func (s *Store) Load(ctx context.Context) (portal.Config, error) {
	v, err, _ := s.flight.Do("load", func() (any, error) {
		fetched, err := s.client.FetchConfig(ctx)
		if err != nil {
			s.mu.RLock()
			base := s.base.Clone()
			s.mu.RUnlock()
			return base, &ConfigLoadError{Err: err}
		}
		base := portal.Merge(s.defaults(), fetched)
		s.mu.Lock()
		s.base = base
		s.loaded = true
		s.mu.Unlock()
		return base.Clone(), nil
	})
	cfg := v.(portal.Config).Clone()
	if err != nil {
		s.logger.Warn("using fallback configuration", "err", err)
	} else {
		s.logger.Debug("configuration loaded", "title", cfg.TitleOrDefault())
	}
	return cfg, err
}

// Loaded reports whether a Load has succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Base returns a copy of the base configuration.
func (s *Store) Base() portal.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.Clone()
}

// Override returns the persisted override, or an empty configuration when
// there is none or it is corrupt.
func (s *Store) Override() portal.Config {
	o, _ := s.readOverride()
	return o
}

// Effective merges the base with the persisted override.
func (s *Store) Effective() portal.Config {
	override, _ := s.readOverride()
	return s.effective(override)
}

func (s *Store) effective(override portal.Config) portal.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return portal.Merge(s.base, override)
}

// SetField sets a dotted path in the override, persists it and returns the
// new effective configuration. Editing inside a role's list first copies the
// effective list for that role into the override, since a role in the
// override replaces the base list whole. Invalid colors are rejected with
// portal.ErrInvalidColor and nothing is persisted.
func (s *Store) SetField(path string, value any) (portal.Config, error) {
	segs, err := portal.SplitPath(path)
	if err != nil {
		return portal.Config{}, err
	}

	s.editMu.Lock()
	override, _ := s.readOverride()
	if len(segs) > 2 && segs[0] == "links" {
		role := portal.Role(segs[1])
		if _, ok := override.Links[role]; !ok {
			seeded := s.effective(override).Clone().Links[role]
			if override.Links == nil {
				override.Links = map[portal.Role][]portal.Link{}
			}
			if seeded == nil {
				seeded = []portal.Link{}
			}
			override.Links[role] = seeded
		}
	}
	updated, err := override.With(path, value)
	if err != nil {
		s.editMu.Unlock()
		return portal.Config{}, err
	}
	if err := s.writeOverride(updated); err != nil {
		s.editMu.Unlock()
		return portal.Config{}, err
	}
	s.editMu.Unlock()

	eff := s.effective(updated)
	s.logger.Debug("override field set", "path", path)
	s.observers.Publish(eff)
	return eff, nil
}

// ResetToDefault discards the override; the effective configuration becomes
// the base again.
func (s *Store) ResetToDefault() error {
	s.editMu.Lock()
	err := s.local.Remove(localstore.KeyOverride)
	s.editMu.Unlock()
	if err != nil {
		return fmt.Errorf("reset override: %w", err)
	}
	s.logger.Info("override discarded")
	s.observers.Publish(s.Effective())
	return nil
}

// Commit saves the effective configuration to the server. Commits are
// serialized. On success the committed configuration becomes the base, the
// override is cleared (unless it was edited while the save was in flight),
// other contexts are told to reload and an attached cache worker drops its
// override. On failure the override is left untouched and a
// *ConfigSaveError is returned; errors.Is(err, ErrAuth) reports rejected
// credentials.
func (s *Store) Commit(ctx context.Context, auth portal.Credential) (portal.Config, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	snapshot, _, err := s.local.Get(localstore.KeyOverride)
	if err != nil {
		return portal.Config{}, &ConfigSaveError{Err: fmt.Errorf("read override: %w", err)}
	}
	override, _ := decodeOverride(snapshot)
	cfg := s.effective(override)

	resp, err := s.client.SaveConfig(ctx, auth, cfg)
	if err != nil {
		saveErr := classifySaveError(err)
		s.logger.Warn("commit failed", "status", saveErr.Status, "err", err)
		return portal.Config{}, saveErr
	}

	s.mu.Lock()
	s.base = cfg.Clone()
	s.loaded = true
	s.mu.Unlock()

	s.editMu.Lock()
	current, _, err := s.local.Get(localstore.KeyOverride)
	switch {
	case err != nil:
		s.logger.Warn("re-read override after commit", "err", err)
	case bytes.Equal(current, snapshot):
		if err := s.local.Remove(localstore.KeyOverride); err != nil {
			s.logger.Warn("clear override after commit", "err", err)
		}
	default:
		s.logger.Info("override edited during commit, keeping it")
	}
	revision := resp.Timestamp
	if revision == "" {
		revision = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := s.local.Set(localstore.KeyRevision, []byte(revision)); err != nil {
		s.logger.Warn("bump revision", "err", err)
	}
	s.editMu.Unlock()

	if s.controller != nil {
		if err := s.post(ctx, worker.ClearMessage()); err != nil {
			s.logger.Warn("clear worker override after commit", "err", err)
		}
	}

	s.logger.Info("configuration committed", "path", resp.Path, "revision", revision)
	s.observers.Publish(s.Effective())
	return cfg, nil
}

// PublishOverride pushes the effective configuration to the cache worker
// and returns once the worker has acknowledged it. From then on every fetch
// of the configuration resource through the worker returns it.
func (s *Store) PublishOverride(ctx context.Context) error {
	data, err := json.Marshal(s.Effective())
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if err := s.post(ctx, worker.UpdateMessage(data)); err != nil {
		return fmt.Errorf("publish override: %w", err)
	}
	s.logger.Info("override published to worker")
	return nil
}

// ClearPublished tells the cache worker to drop its override.
func (s *Store) ClearPublished(ctx context.Context) error {
	if err := s.post(ctx, worker.ClearMessage()); err != nil {
		return fmt.Errorf("clear published override: %w", err)
	}
	s.logger.Info("worker override cleared")
	return nil
}

func (s *Store) post(ctx context.Context, msg worker.Message) error {
	if s.controller == nil {
		return ErrNoController
	}
	reply, err := s.controller.Post(ctx, msg)
	if err != nil {
		return err
	}
	if !reply.Success {
		if reply.Error == "" {
			reply.Error = "rejected"
		}
		return fmt.Errorf("worker: %s", reply.Error)
	}
	return nil
}

// handleStorage reacts to writes made by other contexts.
func (s *Store) handleStorage(ev events.StorageEvent) {
	switch ev.Key {
	case localstore.KeyOverride:
		s.logger.Debug("override changed in another context", "removed", ev.Removed)
		s.observers.Publish(s.Effective())
	case localstore.KeyRevision:
		if ev.Removed {
			return
		}
		s.logger.Debug("configuration committed in another context", "revision", string(ev.NewValue))
		ctx, cancel := context.WithTimeout(context.Background(), s.reloadTimeout)
		defer cancel()
		if _, err := s.Load(ctx); err != nil {
			return
		}
		s.observers.Publish(s.Effective())
	}
}

func (s *Store) readOverride() (portal.Config, error) {
	data, ok, err := s.local.Get(localstore.KeyOverride)
	if err != nil {
		s.logger.Warn("read override", "err", err)
		return portal.Config{}, err
	}
	if !ok {
		return portal.Config{}, nil
	}
	cfg, err := decodeOverride(data)
	if err != nil {
		s.logger.Warn("ignoring stored override", "err", err)
		return portal.Config{}, err
	}
	return cfg, nil
}

func decodeOverride(data []byte) (portal.Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return portal.Config{}, nil
	}
	cfg, err := portal.Parse(data)
	if err != nil {
		return portal.Config{}, &OverrideCorruptError{Key: localstore.KeyOverride, Err: err}
	}
	return cfg, nil
}

func (s *Store) writeOverride(cfg portal.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if err := s.local.Set(localstore.KeyOverride, data); err != nil {
		return fmt.Errorf("persist override: %w", err)
	}
	return nil
}

func classifySaveError(err error) *ConfigSaveError {
	out := &ConfigSaveError{Err: err}
	var apiErr *portalclient.APIError
	if errors.As(err, &apiErr) {
		out.Status = apiErr.Status
		out.Message = strings.TrimSpace(apiErr.Message)
		if out.Message == "" {
			out.Message = apiErr.Code
		}
	}
	if errors.Is(err, portalclient.ErrUnauthorized) {
		out.Status = http.StatusUnauthorized
	}
	return out
}
