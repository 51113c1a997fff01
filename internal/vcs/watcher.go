package vcs

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Watch re-checks the range when the
// caller does not override it.
const DefaultPollInterval = 500 * time.Millisecond

// Watch polls Revisions(base) on an interval and pushes the updated range
// to the returned channel whenever it changes. This is the production
// RangeWatcher the Scheduler consumes. The channel is closed when ctx is
// done.
func (r *Repo) Watch(ctx context.Context, base string, interval time.Duration) (<-chan []Revision, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	out := make(chan []Revision, 1)

	initial, err := r.Revisions(ctx, base)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		last := initial
		send := func(revs []Revision) bool {
			select {
			case out <- revs:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(last) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				revs, err := r.Revisions(ctx, base)
				if err != nil {
					// Transient errors (e.g. mid-rebase) are swallowed; the
					// range simply doesn't update this tick. The next
					// successful poll resumes normal operation.
					continue
				}
				if !sameRange(last, revs) {
					last = revs
					if !send(revs) {
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func sameRange(a, b []Revision) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Commit != b[i].Commit {
			return false
		}
	}
	return true
}
