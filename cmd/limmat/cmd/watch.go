package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"limmat/internal/logger"
	"limmat/internal/observability"
	"limmat/internal/resource"
	"limmat/internal/resultdb"
	"limmat/internal/scheduler"
	"limmat/internal/statusbus"
	"limmat/internal/tui"
	"limmat/internal/vcs"
	"limmat/internal/webui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <base-revision>",
	Short: "Continuously test every commit in <base-revision>..HEAD as the range changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	base := args[0]

	s, err := build(cmd.Flags())
	if err != nil {
		return err
	}

	log := logger.New()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stateRoot, err := os.MkdirTemp("", "limmat-state-*")
	if err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	defer os.RemoveAll(stateRoot)

	db, err := resultdb.Open(filepath.Join(stateRoot, "results"))
	if err != nil {
		return fmt.Errorf("opening result database: %w", err)
	}

	worktrees, err := resource.NewWorktreePool(ctx, s.repo, s.numWorktrees, filepath.Join(stateRoot, "worktrees"))
	if err != nil {
		return fmt.Errorf("provisioning worktree pool: %w", err)
	}

	workRoot := filepath.Join(stateRoot, "work")
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return fmt.Errorf("creating scratch work directory: %w", err)
	}

	var metrics *observability.SchedulerMetrics
	var metricsHandler http.Handler
	if s.cfg.HTTPAddr != "" {
		var shutdownMetrics func(context.Context) error
		metricsHandler, shutdownMetrics, err = observability.InitMetrics()
		if err != nil {
			return fmt.Errorf("initializing metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5e9)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
		metrics, err = observability.NewSchedulerMetrics()
		if err != nil {
			return fmt.Errorf("initializing scheduler metrics: %w", err)
		}
	}

	bus := statusbus.New()
	sched := scheduler.New(scheduler.Config{
		Graph:     s.graph,
		Resources: resourcePool(s.poolTokens),
		Worktrees: worktrees,
		DB:        db,
		Bus:       bus,
		WorkRoot:  workRoot,
		RepoRoot:  s.repo.Root(),
		Logger:    log,
		Metrics:   metrics,
	})

	revisionsCh, err := s.repo.Watch(ctx, base, vcs.DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("watching %s..HEAD: %w", base, err)
	}

	schedErrCh := make(chan error, 1)
	go func() { schedErrCh <- sched.Run(ctx, revisionsCh) }()

	if s.cfg.HTTPAddr != "" {
		srv := webui.New(bus, db)
		defer srv.Close()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/", srv.Handler())

		httpServer := &http.Server{Addr: s.cfg.HTTPAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("web ui server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5e9)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := tui.Run(tui.Config{Bus: bus}); err != nil {
		cancel()
		<-schedErrCh
		return fmt.Errorf("running terminal dashboard: %w", err)
	}

	cancel()
	if err := <-schedErrCh; err != nil && err != context.Canceled {
		return err
	}
	return nil
}
