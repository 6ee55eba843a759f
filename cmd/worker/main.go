// Package main implements a hashcrack worker.
//
// A worker polls the coordinator's /members endpoint until the coordinator
// shows up, connects over websocket and executes hint and password tasks
// until it receives a shutdown. It exits with status 1 when the coordinator
// disappears before that.
//
// HTTP endpoints:
//   - GET /health: liveness probe, polled by the coordinator
//   - GET /info: worker state
//   - GET /welcome/contains?word=: lookup in the welcome filter
//
// Configuration comes from the environment (see internal/config). The only
// required variable is COORDINATOR_ADDR.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/config"
	"github.com/dreamware/hashcrack/internal/logging"
	"github.com/dreamware/hashcrack/internal/membership"
	"github.com/dreamware/hashcrack/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Level, cfg.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Named(cfg.ID), worker.Options{}); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infow("worker interrupted")
			return
		}
		log.Errorw("worker failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Infow("worker stopped")
}

// run serves one coordinator session. It returns when the worker is told to
// stop, loses its coordinator or ctx is canceled.
func run(ctx context.Context, cfg config.Worker, log *zap.SugaredLogger, opts worker.Options) error {
	self := cluster.Member{ID: cfg.ID, Addr: cfg.PublicAddr, Roles: []string{cluster.RoleWorker}}
	w := worker.New(self, log, opts)
	watcher := membership.NewWatcher(cfg.CoordinatorAddr, membership.Options{
		Interval:    cfg.DiscoveryInterval,
		MaxFailures: cfg.DiscoveryMaxFails,
	}, log.Named("membership"))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(w),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("listening", "addr", cfg.Listen, "public", cfg.PublicAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := watcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := w.Run(gctx, watcher.Events())
		cancel()

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if serr := srv.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
		if err == nil {
			info := w.Info()
			log.Infow("session finished", "coordinator", info.Coordinator, "tasks", info.TasksCompleted)
		}
		return err
	})

	return g.Wait()
}
