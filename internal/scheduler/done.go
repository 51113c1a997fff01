package scheduler

import (
	"os"

	"limmat/internal/graph"
	"limmat/internal/job"
	"limmat/internal/resultdb"
	"limmat/internal/statusbus"
)

// handleJobDone processes a completed Job: applies its outcome to cell
// state (if the cell still exists — it may have been cancelled and
// removed already, if its revision left the range while the Job was
// tearing down), then releases its leases and scratch directory. Leases
// are released only here, after the child process has actually exited, so
// a following Job never inherits a dirty worktree.
func (s *Scheduler) handleJobDone(d jobDone) {
	d.logger.Info("job finished", "test", d.key.Test, "revision", d.key.Revision, "outcome", d.outcome.Kind.String())
	s.settleOutcome(d.key, d.outcome)
	d.resourceLease.Release()
	d.worktreeLease.Release()
	os.RemoveAll(d.workDir)
}

// settleOutcome applies a Job's terminal Outcome to its cell. Success and
// Failure are cacheable (if the test's cache policy allows it) and
// terminal; the ResultDatabase write happens-before the StatusBus
// publication. Error is never cached and returns the cell to Pending for
// an implicit, rate-limited retry.
func (s *Scheduler) settleOutcome(key cellKey, outcome job.Outcome) {
	c, ok := s.cells[key]
	if !ok {
		// Cell was cancelled (revision left the range) while this Job
		// was finishing up; nothing left to settle.
		return
	}

	if outcome.Kind == job.Error {
		c.state = statusbus.Pending
		c.erroredBefore = true
		c.cancel = nil
		s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Pending, Reason: "retrying after error"})
		return
	}

	stdoutPath, stderrPath := outcome.StdoutPath, outcome.StderrPath
	if outcome.Cacheable() && c.test.Cache != graph.CacheNone {
		versionID := c.revision.Commit
		if c.test.Cache == graph.CacheByTree {
			versionID = c.revision.Tree
		}
		dbKey := resultdb.Key{ConfigHash: c.test.ConfigHash, VersionID: versionID}
		if err := s.db.Store(dbKey, outcome); err != nil {
			// Database errors are logged; the scheduler still publishes
			// the outcome below, and a subsequent run simply re-executes
			// this cell since no cache entry was actually committed.
			s.logger.Error("result database store failed", "test", c.test.Name, "revision", c.revision.Commit, "error", err)
		} else if dbStdout, dbStderr, ok := s.db.StreamPaths(dbKey); ok {
			// Publish the database copies: the Job's scratch directory is
			// removed as soon as this cell has settled.
			stdoutPath, stderrPath = dbStdout, dbStderr
		}
	}

	c.state = statusbus.Done
	c.outcomeKind = outcome.Kind
	c.exitCode = outcome.ExitCode
	c.stdoutPath = stdoutPath
	c.stderrPath = stderrPath
	c.cancel = nil

	s.bus.Publish(statusbus.Cell{
		Key: key, State: statusbus.Done, OutcomeOK: outcome.Kind == job.Success,
		ExitCode: outcome.ExitCode, StdoutPath: stdoutPath, StderrPath: stderrPath,
	})

	s.reclassifyBlocked(key.Revision)
}

// reclassifyBlocked re-evaluates every Blocked cell for a revision after
// one of its dependencies reaches Done, promoting it to Pending or
// Canceled as appropriate. Iterating in dependency order lets a single
// pass cascade through a chain of dependents.
func (s *Scheduler) reclassifyBlocked(commit string) {
	for _, t := range s.graph.TopoOrder() {
		key := statusbus.Key{Test: t.Name, Revision: commit}
		c, ok := s.cells[key]
		if !ok || c.state != statusbus.Blocked {
			continue
		}
		anyFailedDep, allDepsSucceeded := s.depStatus(t, commit)
		switch {
		case anyFailedDep:
			c.state = statusbus.Canceled
			s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Canceled, Reason: "skipped: dependency failed"})
		case allDepsSucceeded:
			c.state = statusbus.Pending
			s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Pending})
		}
	}
}
