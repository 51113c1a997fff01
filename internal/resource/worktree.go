package resource

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"limmat/internal/vcs"
)

// WorktreePool is the bounded pool of disposable working directories
// described by the WorktreePool collaborator: size num_worktrees, each
// leased to at most one Job at a time. Unlike Pool's anonymous tokens,
// checking out a worktree requires driving the VCS collaborator, so this
// is a dedicated type rather than a generic token.
type WorktreePool struct {
	mu     sync.Mutex
	idle   []*vcs.Worktree
	leased int
	notify chan struct{}
}

// NewWorktreePool creates `size` worktrees under baseDir (baseDir/wt-0,
// wt-1, ...), each checked out at repo's current HEAD; callers then lease
// them via Checkout, which re-points a worktree at the requested revision.
func NewWorktreePool(ctx context.Context, repo *vcs.Repo, size int, baseDir string) (*WorktreePool, error) {
	idle := make([]*vcs.Worktree, 0, size)
	for i := 0; i < size; i++ {
		wt, err := repo.NewWorktree(ctx, filepath.Join(baseDir, fmt.Sprintf("wt-%d", i)))
		if err != nil {
			return nil, fmt.Errorf("provisioning worktree %d: %w", i, err)
		}
		idle = append(idle, wt)
	}
	return &WorktreePool{idle: idle, notify: make(chan struct{})}, nil
}

// Size returns num_worktrees.
func (p *WorktreePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.leased
}

// WorktreeLease is an exclusive grant of one worktree, checked out at the
// requested revision. Release returns the worktree to the pool without
// cleaning its contents — the next Checkout is responsible for achieving
// the requested state, per the collaborator's stated contract.
type WorktreeLease struct {
	pool *WorktreePool
	wt   *vcs.Worktree
	once sync.Once
}

// Path returns the leased worktree's directory on disk.
func (l *WorktreeLease) Path() string {
	return l.wt.Path()
}

// Release returns the worktree to the pool. Safe to call more than once
// and safe to call on a nil lease.
func (l *WorktreeLease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.pool.put(l.wt)
	})
}

// Checkout blocks until a worktree is available, checks out rev in it, and
// returns a lease. If the checkout itself fails (e.g. a dirty tree left by
// a misbehaving prior test), the worktree is still returned idle to the
// pool — the error is the caller's signal to translate this into an Error
// outcome for the job, per the WorktreePool error policy.
func (p *WorktreePool) Checkout(ctx context.Context, rev string) (*WorktreeLease, error) {
	for {
		lease, found, err := p.TryCheckout(ctx, rev)
		if found {
			return lease, err
		}
		p.mu.Lock()
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryCheckout attempts to lease and check out a worktree without blocking
// when the pool is exhausted. found is false only when no worktree was
// idle; found is true (with a non-nil err) when a worktree was taken but
// its checkout failed, in which case the worktree has already been
// returned to the pool. This is the dispatch loop's non-blocking
// primitive, mirroring Pool.TryRequest.
func (p *WorktreePool) TryCheckout(ctx context.Context, rev string) (lease *WorktreeLease, found bool, err error) {
	p.mu.Lock()
	if len(p.idle) == 0 {
		p.mu.Unlock()
		return nil, false, nil
	}
	wt := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	p.leased++
	p.mu.Unlock()

	if err := wt.Checkout(ctx, rev); err != nil {
		p.put(wt)
		return nil, true, fmt.Errorf("checking out %s: %w", rev, err)
	}
	return &WorktreeLease{pool: p, wt: wt}, true, nil
}

func (p *WorktreePool) put(wt *vcs.Worktree) {
	p.mu.Lock()
	p.idle = append(p.idle, wt)
	p.leased--
	close(p.notify)
	p.notify = make(chan struct{})
	p.mu.Unlock()
}
