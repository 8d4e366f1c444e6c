package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mohamurshid/AutoRemoveAi/internal/config"
	"github.com/mohamurshid/AutoRemoveAi/internal/httpapi"
	"github.com/mohamurshid/AutoRemoveAi/internal/service"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, watchDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch over HTTP, optionally watching a directory for new images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(
				config.WithHTTPAddr(addr),
				config.WithWatchDir(watchDir),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := service.NewSessionFromConfig(cfg)
			if err != nil {
				return err
			}
			defer session.Close()

			var sched scheduler
			engine := cron.New()
			if cfg.Watch.Dir != "" {
				watcher, err := service.NewWatcher(session, cfg.Watch.Dir, cfg.Watch.CronExpr, engine)
				if err != nil {
					return err
				}
				sched = watcher
			}

			srv := httpapi.NewServer(session, httpapi.WithBaseContext(ctx))
			return runWithComponents(ctx, cfg, sched, engine, srv)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "directory to watch for new images (overrides WATCH_DIR)")
	return cmd
}

// runWithComponents starts the optional scheduler and the HTTP server and
// blocks until ctx is cancelled or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if sched != nil {
		if err := sched.Schedule(ctx); err != nil {
			return err
		}
		engine.Start()
		defer func() { <-engine.Stop().Done() }()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
