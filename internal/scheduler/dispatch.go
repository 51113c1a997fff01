package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"limmat/internal/graph"
	"limmat/internal/job"
	"limmat/internal/logger"
	"limmat/internal/resource"
	"limmat/internal/statusbus"
	"limmat/internal/vcs"
)

// resourceEnv formats the LIMMAT_RESOURCE_<name>[_<i>] environment pairs a
// Job's granted tokens are exposed as (see the manifest's job-environment
// contract). Declaration order from the test's resource demands is used so
// the indices are stable across runs.
func resourceEnv(lease *resource.Lease, demands []graph.ResourceDemand) []string {
	if lease == nil {
		return nil
	}
	var env []string
	for _, d := range demands {
		toks := lease.Tokens(d.Name)
		upper := strings.ToUpper(d.Name)
		for i, tok := range toks {
			env = append(env, fmt.Sprintf("LIMMAT_RESOURCE_%s_%d=%s", upper, i, tok))
		}
		if len(toks) == 1 {
			env = append(env, fmt.Sprintf("LIMMAT_RESOURCE_%s=%s", upper, toks[0]))
		}
	}
	return env
}

// dispatch runs one logical dispatch step: for every Pending cell, most
// recent revision first and tie-broken by manifest declaration order,
// attempt to acquire resources and (if required) a worktree. On success
// the cell transitions to Running and a Job starts. This never waits for a
// resource or worktree to free up; checking out a leased worktree runs git
// synchronously.
func (s *Scheduler) dispatch(ctx context.Context) {
	for i := len(s.revisions) - 1; i >= 0; i-- {
		rev := s.revisions[i]
		for _, t := range s.graph.Tests() {
			key := statusbus.Key{Test: t.Name, Revision: rev.Commit}
			c, ok := s.cells[key]
			if !ok || c.state != statusbus.Pending {
				continue
			}
			if c.erroredBefore && !s.retryLimiterFor(rev.Commit).Allow() {
				continue
			}
			s.tryDispatch(key, c, rev)
		}
	}
}

func (s *Scheduler) retryLimiterFor(commit string) *rate.Limiter {
	lim, ok := s.retryLimiters[commit]
	if !ok {
		lim = rate.NewLimiter(s.retryRate, s.retryBurst)
		s.retryLimiters[commit] = lim
	}
	return lim
}

func (s *Scheduler) tryDispatch(key cellKey, c *cell, rev vcs.Revision) {
	demands := make([]resource.Demand, len(c.test.Resources))
	for i, rd := range c.test.Resources {
		demands[i] = resource.Demand{Name: rd.Name, Count: rd.Count}
	}

	resLease, ok := s.resources.TryRequest(demands)
	if !ok {
		return
	}

	var wtLease *resource.WorktreeLease
	dir := s.repoRoot
	if c.test.NeedsWorktree {
		lease, found, err := s.worktrees.TryCheckout(s.runCtx, rev.Commit)
		if !found {
			resLease.Release()
			return
		}
		if err != nil {
			resLease.Release()
			s.settleOutcome(key, job.Outcome{Kind: job.Error, Err: err})
			return
		}
		wtLease = lease
		dir = lease.Path()
	}

	workDir, err := os.MkdirTemp(s.workRoot, "cell-*")
	if err != nil {
		s.logger.Error("failed to allocate job scratch directory", "test", c.test.Name, "revision", rev.Commit, "error", err)
		resLease.Release()
		wtLease.Release()
		return
	}

	jobID := uuid.NewString()
	jobLog := logger.FromContext(logger.WithRequestID(s.runCtx, jobID), s.logger)

	j := job.New(s.runCtx, *c.test, dir, workDir)
	j.Origin = s.repoRoot
	j.Revision = rev.Commit
	j.ResourceEnv = resourceEnv(resLease, c.test.Resources)
	c.cancel = j.Cancel
	c.state = statusbus.Running
	s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Running})
	jobLog.Info("job dispatched", "test", key.Test, "revision", rev.Commit)
	if s.metrics != nil {
		s.metrics.JobsDispatched.Add(s.runCtx, 1, otelmetric.WithAttributes(attribute.String("test", key.Test)))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		outcome := s.runJob(j, jobLog)
		if s.metrics != nil {
			s.metrics.JobOutcomes.Add(s.runCtx, 1, otelmetric.WithAttributes(
				attribute.String("test", key.Test),
				attribute.String("outcome", outcome.Kind.String()),
			))
		}
		done := jobDone{key: key, logger: jobLog, outcome: outcome, resourceLease: resLease, worktreeLease: wtLease, workDir: workDir}
		select {
		case s.doneCh <- done:
		case <-s.runCtx.Done():
			// The scheduler has stopped reading doneCh; release what we
			// hold ourselves rather than leaking leases or blocking.
			resLease.Release()
			wtLease.Release()
			os.RemoveAll(workDir)
		}
	}()
}

// runJob runs a Job's child process, recovering a panic into an Error
// outcome so a single misbehaving Job can never leak its leases or take
// down the scheduler's completion channel.
func (s *Scheduler) runJob(j *job.Job, log *slog.Logger) (outcome job.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r)
			outcome = job.Outcome{Kind: job.Error, Err: fmt.Errorf("job panicked: %v", r)}
		}
	}()
	return j.Run()
}
