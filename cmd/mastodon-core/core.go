package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/pprof"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/router"
	"github.com/blindodon/mastodon-core/internal/session"
	"github.com/blindodon/mastodon-core/internal/socketserver"
	"github.com/blindodon/mastodon-core/internal/store"
	"github.com/blindodon/mastodon-core/internal/streaming"
)

const cleanupInterval = 6 * time.Hour

// serve runs the core on an opened store until ctx is done or a UI asks it
// to shut down.
func serve(ctx context.Context, cfg *config.Config, st *store.Store, auth remote.Authenticator, opts *options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxAge := time.Duration(cfg.Storage.CacheMaxAgeDays) * 24 * time.Hour
	cleanupCache(ctx, st, maxAge)

	sessions := session.New(st, auth)
	defer sessions.Close()

	// The router publishes through the server and the server dispatches to
	// the router, so the handler is bound once both exist.
	var rt *router.Router
	srv, err := socketserver.NewServer(cfg, socketserver.HandlerFunc(
		func(ctx context.Context, msg *ipc.Message) *ipc.Message {
			return rt.Handle(ctx, msg)
		}))
	if err != nil {
		return err
	}
	relay := streaming.New(ctx, sessions, srv)
	sessions.OnChange(relay.SessionChanged)
	rt = router.New(sessions, st, router.Options{
		Streams:  relay,
		Events:   srv,
		Shutdown: cancel,
	})

	sessions.Restore(ctx)

	if err := srv.Start(ctx); err != nil {
		relay.Close()
		return err
	}

	if opts.profiling.Enabled() {
		started := time.Now()
		prof := pprof.NewHandler(opts.profiling, func() any {
			cur := sessions.Current()
			return map[string]any{
				"version":       version,
				"uptime":        time.Since(started).Round(time.Second).String(),
				"connections":   srv.ClientCount(),
				"streams":       relay.Active(),
				"authenticated": cur.Authenticated,
				"account_id":    cur.AccountID,
			}
		})
		if err := prof.Start(); err != nil {
			logger.Warn("profiling disabled: %v", err)
		} else {
			defer func() {
				if err := prof.Stop(); err != nil {
					logger.Warn("profiling: %v", err)
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := config.Watch(gctx, opts.configPath, func(next *config.Config) {
			level := logger.ParseLevel(next.LogLevel)
			if opts.logLevel == "" && level != logger.Global().GetLevel() {
				logger.Info("log level changed to %s", level)
				logger.SetLevel(level)
			}
		})
		if err != nil {
			logger.Warn("config reload disabled: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				cleanupCache(gctx, st, maxAge)
			}
		}
	})
	err = g.Wait()

	logger.Info("shutting down")
	// In-flight requests finish first; streams hold session leases, so they
	// end before the session manager closes its client.
	srv.Stop()
	relay.Close()
	sessions.Close()
	logger.Info("shutdown complete")
	return err
}

func cleanupCache(ctx context.Context, st *store.Store, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	n, err := st.CleanupPosts(ctx, maxAge)
	if err != nil {
		logger.Warn("failed to clean up cached posts: %v", err)
		return
	}
	if n > 0 {
		logger.Info("removed %d cached posts older than %s", n, maxAge)
	}
}
