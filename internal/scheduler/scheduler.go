// Package scheduler implements the Scheduler: the single-threaded
// cooperative engine that maintains the live set of (test, revision)
// cells, reacts to range updates from the RangeWatcher, dispatches Jobs
// once their dependencies, resources, and worktree are available, and
// cancels Jobs whose revision has left the watched range.
//
// The scheduler never waits for a resource or worktree to free up: dispatch
// uses the non-blocking TryRequest/TryCheckout primitives. Child process
// supervision runs in per-Job goroutines that report back on a completion
// channel; the `git checkout` that prepares a leased worktree runs
// synchronously on the scheduler goroutine, inside TryCheckout.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"limmat/internal/graph"
	"limmat/internal/job"
	"limmat/internal/observability"
	"limmat/internal/resource"
	"limmat/internal/resultdb"
	"limmat/internal/statusbus"
	"limmat/internal/vcs"
)

// Config wires together the Scheduler's collaborators.
type Config struct {
	Graph     *graph.Graph
	Resources *resource.Pool
	Worktrees *resource.WorktreePool
	DB        *resultdb.Database
	Bus       *statusbus.Bus
	// WorkRoot is scratch space for per-Job stdout/stderr capture before
	// a cacheable outcome is copied into the ResultDatabase.
	WorkRoot string
	// RepoRoot is the main repository checkout, used as a Job's working
	// directory for tests with NeedsWorktree == false.
	RepoRoot string
	Logger   *slog.Logger

	// Metrics, if non-nil, is incremented on every dispatch and outcome.
	// Left nil (the default) the scheduler runs with no metrics overhead,
	// e.g. in scheduler tests and in `limmat watch` without --http.
	Metrics *observability.SchedulerMetrics

	// RetryRate bounds how often cells that keep producing Error outcomes
	// are redispatched; each revision gets its own limiter with this rate
	// and RetryBurst. Defaults to one retry every 2 seconds with a burst
	// of 1.
	RetryRate  rate.Limit
	RetryBurst int
}

type cellKey = statusbus.Key

type cell struct {
	test     *graph.TestConfig
	revision vcs.Revision
	state    statusbus.CellState

	// Valid only when state == Done.
	outcomeKind job.Kind
	exitCode    int
	stdoutPath  string
	stderrPath  string

	// erroredBefore marks a cell that was returned to Pending after a
	// Job produced an Error outcome, so dispatch can rate-limit its
	// redispatch.
	erroredBefore bool

	cancel context.CancelFunc
}

// Scheduler owns the mutable cell state, the ResourcePool and the
// WorktreePool. It is not safe for concurrent use by multiple goroutines
// other than via Run's input channel and the completion channel it reads
// internally.
type Scheduler struct {
	graph     *graph.Graph
	resources *resource.Pool
	worktrees *resource.WorktreePool
	db        *resultdb.Database
	bus       *statusbus.Bus
	workRoot  string
	repoRoot  string
	logger    *slog.Logger
	metrics   *observability.SchedulerMetrics

	retryRate  rate.Limit
	retryBurst int
	retryLimiters map[string]*rate.Limiter

	cells     map[cellKey]*cell
	revisions []vcs.Revision

	doneCh chan jobDone
	wg     sync.WaitGroup

	// runCtx is set at the start of Run and used as the parent context
	// for every dispatched Job, so a scheduler shutdown cancels all
	// in-flight Jobs too.
	runCtx context.Context
}

type jobDone struct {
	key           cellKey
	logger        *slog.Logger
	outcome       job.Outcome
	resourceLease *resource.Lease
	worktreeLease *resource.WorktreeLease
	workDir       string
}

// New constructs a Scheduler. An empty WorkRoot defaults to os.TempDir().
func New(cfg Config) *Scheduler {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryRate <= 0 {
		cfg.RetryRate = rate.Every(2 * time.Second)
	}
	if cfg.RetryBurst <= 0 {
		cfg.RetryBurst = 1
	}
	return &Scheduler{
		graph:         cfg.Graph,
		resources:     cfg.Resources,
		worktrees:     cfg.Worktrees,
		db:            cfg.DB,
		bus:           cfg.Bus,
		workRoot:      cfg.WorkRoot,
		repoRoot:      cfg.RepoRoot,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		retryRate:     cfg.RetryRate,
		retryBurst:    cfg.RetryBurst,
		retryLimiters: make(map[string]*rate.Limiter),
		cells:         make(map[cellKey]*cell),
		doneCh:        make(chan jobDone, 64),
	}
}

// Run drives the scheduler until ctx is cancelled. If revisionsCh closes
// first, Run keeps the last range and goes on handling Job completions
// until ctx is done. revisionsCh is typically the channel returned by
// vcs.Repo.Watch.
func (s *Scheduler) Run(ctx context.Context, revisionsCh <-chan []vcs.Revision) error {
	s.runCtx = ctx
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case revs, ok := <-revisionsCh:
			if !ok {
				revisionsCh = nil
				continue
			}
			s.applyRange(ctx, revs)
			s.dispatch(ctx)
		case d := <-s.doneCh:
			s.handleJobDone(d)
			s.dispatch(ctx)
		}
	}
}
