package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/portal/internal/cachestore"
	"github.com/marcus/portal/internal/clientconfig"
	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/worker"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Run the edge cache worker in front of the origin",
	Long: `Runs the edge cache worker: a caching proxy in front of the origin that
precaches the portal shell, keeps the last good configuration for offline
use and serves a published draft in place of the server's configuration.

Point PORTAL_WORKER_URL at the listen address so 'portal config publish'
and commits can reach it.`,
	GroupID: "preview",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, err := clientconfig.GetEdge()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			edge.Listen = v
		}
		if v, _ := cmd.Flags().GetString("cache-db"); v != "" {
			edge.CacheDB = v
		}
		originURL, _ := cmd.Flags().GetString("origin")
		if originURL == "" {
			originURL = clientconfig.GetServerURL()
		}
		origin, err := url.Parse(originURL)
		if err != nil || origin.Host == "" {
			err = fmt.Errorf("invalid origin %q", originURL)
			output.Error("%v", err)
			return err
		}

		cache, err := cachestore.Open(edge.CacheDB)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cache.Close()

		w, err := worker.New(worker.Config{Origin: origin, Cache: cache, Logger: slog.Default()})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		skipInstall, _ := cmd.Flags().GetBool("no-install")
		if !skipInstall {
			installCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := w.Install(installCtx)
			cancel()
			if err != nil {
				// The worker still proxies and caches on demand.
				output.Warning("precache failed: %v", err)
			}
		}
		if err := w.Activate(ctx); err != nil {
			output.Error("%v", err)
			return err
		}
		w.Start()
		defer w.Stop()

		ln, err := net.Listen("tcp", edge.Listen)
		if err != nil {
			output.Error("listen: %v", err)
			return err
		}
		srv := &http.Server{
			Handler:           w.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(ln) }()

		output.Success("edge worker for %s listening on http://%s", origin, ln.Addr())
		output.Info("export PORTAL_WORKER_URL=http://%s", ln.Addr())

		select {
		case <-ctx.Done():
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				output.Error("serve: %v", err)
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	edgeCmd.Flags().String("listen", "", "listen address (default 127.0.0.1:8081)")
	edgeCmd.Flags().String("origin", "", "origin URL (default: the configured server)")
	edgeCmd.Flags().String("cache-db", "", "cache database path")
	edgeCmd.Flags().Bool("no-install", false, "skip precaching the portal shell")
	rootCmd.AddCommand(edgeCmd)
}
