// Package main implements the hashcrack coordinator.
//
// The coordinator reads the user records from a CSV file, hands hint and
// password tasks to the workers connected over websocket and writes one
// result line per record once its password is resolved. It exits when every
// record is resolved, or on SIGINT/SIGTERM.
//
// HTTP endpoints:
//   - GET /health: liveness probe
//   - GET /members: membership seed polled by workers
//   - GET /status: progress snapshot
//   - GET /metrics: Prometheus metrics
//   - GET /ws: worker connections
//
// Configuration comes from the environment (see internal/config). The only
// required variable is INPUT_PATH.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hashcrack/internal/bulk"
	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/config"
	"github.com/dreamware/hashcrack/internal/coordinator"
	"github.com/dreamware/hashcrack/internal/logging"
	"github.com/dreamware/hashcrack/internal/record"
	"github.com/dreamware/hashcrack/internal/transport"
	"github.com/dreamware/hashcrack/internal/welcome"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadCoordinator()
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

	if err := run(ctx, cfg, log.Named(cfg.ID)); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infow("coordinator interrupted")
			return
		}
		log.Errorw("coordinator failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Infow("coordinator stopped")
}

// run serves the cluster until the master is done or ctx is canceled.
func run(ctx context.Context, cfg config.Coordinator, log *zap.SugaredLogger) error {
	src, err := record.Open(cfg.InputPath, record.ReaderOptions{
		Separator:  []rune(cfg.InputSeparator)[0],
		BatchSize:  cfg.InputBatchSize,
		SkipHeader: cfg.InputSkipHeader,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	var out io.Writer = os.Stdout
	if cfg.OutputPath != "" {
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	blob, err := welcomeBlob(cfg, log)
	if err != nil {
		return err
	}

	hub := transport.NewHub(log.Named("hub"))
	sender, err := bulk.NewSender(hub.SendFragment, cfg.BulkChunkSize)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	master := coordinator.NewMaster(src, record.NewCollector(out), hub, sender, log.Named("master"), coordinator.Options{
		Metrics:  coordinator.NewMetrics(reg),
		Welcome:  blob,
		Capacity: cfg.WorkerCapacity,
	})
	hub.SetHandler(master)

	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval, cfg.HealthMaxFails, nil, log.Named("health"))
	monitor.SetOnUnhealthy(master.MemberDown)

	self := cluster.Member{ID: cfg.ID, Addr: cfg.PublicAddr, Roles: []string{cluster.RoleCoordinator}}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(self, master, hub, hub, reg),
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
		return master.Run(gctx)
	})
	g.Go(func() error {
		monitor.Start(gctx, func() []cluster.Member { return master.Status().ActiveMembers })
		return nil
	})
	g.Go(func() error {
		select {
		case <-master.Done():
		case <-gctx.Done():
		}
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()

		hub.Close()
		drain(sctx, hub)
		err := srv.Shutdown(sctx)
		cancel()
		return err
	})

	return g.Wait()
}

// drain waits until every worker connection has been torn down, so queued
// shutdown messages reach the workers before the process exits.
func drain(ctx context.Context, hub *transport.Hub) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for len(hub.Members()) > 0 {
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}

func welcomeBlob(cfg config.Coordinator, log *zap.SugaredLogger) ([]byte, error) {
	words, err := welcome.ReadWordlist(cfg.WelcomeWordlist)
	if err != nil {
		return nil, err
	}
	f := welcome.Build(uint(cfg.WelcomeCapacity), cfg.WelcomeFPRate, words)
	blob, err := welcome.Encode(f)
	if err != nil {
		return nil, err
	}
	log.Infow("welcome blob ready", "words", len(words), "size_mb", welcome.SizeMB(f), "bytes", len(blob))
	return blob, nil
}
