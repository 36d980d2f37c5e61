package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/portal/internal/clientconfig"
	"github.com/marcus/portal/internal/events"
	"github.com/marcus/portal/internal/localstore"
	"github.com/marcus/portal/internal/portalclient"
	"github.com/marcus/portal/internal/store"
)

const loadTimeout = 15 * time.Second

// clientContext is one client context: a store over the shared local
// storage, talking to the origin and, when configured, to an edge worker.
type clientContext struct {
	store   *store.Store
	client  *portalclient.Client
	worker  *portalclient.WorkerClient
	watcher *localstore.Watcher
}

// openContext builds a context and loads the base configuration. A failed
// load is logged and the context continues on the defaults. With watch set
// the context follows storage events from other contexts.
func openContext(ctx context.Context, watch bool) (*clientContext, error) {
	dir, err := clientconfig.GetStateDir()
	if err != nil {
		return nil, err
	}
	local, err := localstore.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	cc := &clientContext{client: portalclient.New(clientconfig.GetServerURL(), nil)}
	opts := store.Options{Client: cc.client, Local: local, Logger: slog.Default()}

	if url := clientconfig.GetWorkerURL(); url != "" {
		cc.worker = portalclient.NewWorkerClient(url)
		opts.Controller = cc.worker
	}
	if watch {
		bus := events.NewBus[events.StorageEvent]()
		w, err := local.Watch(bus, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("watch local storage: %w", err)
		}
		cc.watcher = w
		opts.Bus = bus
	}

	cc.store, err = store.New(opts)
	if err != nil {
		cc.Close()
		return nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if _, err := cc.store.Load(loadCtx); err != nil {
		var loadErr *store.ConfigLoadError
		if !errors.As(err, &loadErr) {
			cc.Close()
			return nil, err
		}
		slog.Warn("using default configuration", "server", clientconfig.GetServerURL(), "err", err)
	}
	return cc, nil
}

// Close releases the watcher and detaches the store.
func (c *clientContext) Close() {
	if c.store != nil {
		c.store.Close()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
}
