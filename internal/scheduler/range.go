package scheduler

import (
	"context"

	"limmat/internal/graph"
	"limmat/internal/job"
	"limmat/internal/resultdb"
	"limmat/internal/statusbus"
	"limmat/internal/vcs"
)

// applyRange computes additions and removals against the previously known
// range and updates cell state accordingly, per the State collaborator's
// Additions/Removals rules.
func (s *Scheduler) applyRange(ctx context.Context, revs []vcs.Revision) {
	next := make(map[string]vcs.Revision, len(revs))
	for _, r := range revs {
		next[r.Commit] = r
	}

	for _, old := range s.revisions {
		if _, stillPresent := next[old.Commit]; !stillPresent {
			s.cancelRevision(old.Commit)
		}
	}

	prev := make(map[string]bool, len(s.revisions))
	for _, r := range s.revisions {
		prev[r.Commit] = true
	}
	for _, r := range revs {
		if !prev[r.Commit] {
			s.addRevision(r)
		}
	}

	s.revisions = revs
}

// cancelRevision tears down every cell for a revision that has left the
// range: Running cells have their Job cancelled (teardown happens
// asynchronously, bounded by shutdown_grace_period); Pending/Blocked cells
// are simply discarded. In all cases a Canceled transition is published.
func (s *Scheduler) cancelRevision(commit string) {
	for _, t := range s.graph.Tests() {
		key := statusbus.Key{Test: t.Name, Revision: commit}
		c, ok := s.cells[key]
		if !ok {
			continue
		}
		if c.state == statusbus.Running && c.cancel != nil {
			c.cancel()
		}
		delete(s.cells, key)
		s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Canceled, Reason: "revision left range"})
		s.bus.Forget(key)
	}
}

// addRevision creates a cell for every test against a newly-observed
// revision, in dependency order so a dependent's initial classification
// can observe its dependency's freshly-created cell.
func (s *Scheduler) addRevision(rev vcs.Revision) {
	for _, t := range s.graph.TopoOrder() {
		key := statusbus.Key{Test: t.Name, Revision: rev.Commit}

		if t.Cache != graph.CacheNone {
			versionID := rev.Commit
			if t.Cache == graph.CacheByTree {
				versionID = rev.Tree
			}
			rec, hit, err := s.db.Lookup(resultdb.Key{ConfigHash: t.ConfigHash, VersionID: versionID})
			if err != nil {
				s.logger.Error("result database lookup failed", "test", t.Name, "revision", rev.Commit, "error", err)
			} else if hit {
				s.cells[key] = &cell{
					test: t, revision: rev, state: statusbus.Done,
					outcomeKind: rec.Kind, exitCode: rec.ExitCode,
					stdoutPath: rec.StdoutPath, stderrPath: rec.StderrPath,
				}
				s.bus.Publish(statusbus.Cell{
					Key: key, State: statusbus.Done, OutcomeOK: rec.Kind == job.Success,
					ExitCode: rec.ExitCode, StdoutPath: rec.StdoutPath, StderrPath: rec.StderrPath,
				})
				continue
			}
		}

		anyFailedDep, allDepsSucceeded := s.depStatus(t, rev.Commit)
		switch {
		case anyFailedDep:
			s.cells[key] = &cell{test: t, revision: rev, state: statusbus.Canceled}
			s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Canceled, Reason: "skipped: dependency failed"})
		case allDepsSucceeded:
			s.cells[key] = &cell{test: t, revision: rev, state: statusbus.Pending}
			s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Pending})
		default:
			s.cells[key] = &cell{test: t, revision: rev, state: statusbus.Blocked}
			s.bus.Publish(statusbus.Cell{Key: key, State: statusbus.Blocked})
		}
	}
}

// depStatus reports whether any dependency of t has resolved to Failure
// (or was itself skipped as Canceled) for commit, and whether every
// dependency has resolved to Success. Dependencies that are Running,
// Pending, Blocked, or resolved via a discarded Error are neither: the cell
// remains Blocked until its dependencies settle.
func (s *Scheduler) depStatus(t *graph.TestConfig, commit string) (anyFailedDep, allDepsSucceeded bool) {
	allDepsSucceeded = true
	for _, dep := range t.DependsOn {
		depCell, ok := s.cells[statusbus.Key{Test: dep, Revision: commit}]
		if !ok || depCell.state != statusbus.Done {
			if ok && depCell.state == statusbus.Canceled {
				anyFailedDep = true
			}
			allDepsSucceeded = false
			continue
		}
		if depCell.outcomeKind == job.Failure {
			anyFailedDep = true
		} else if depCell.outcomeKind != job.Success {
			allDepsSucceeded = false
		}
	}
	return anyFailedDep, allDepsSucceeded
}
