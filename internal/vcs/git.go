// Package vcs implements the RangeWatcher and worktree management external
// collaborators by shelling out to the git binary, mirroring the approach
// the original engine took with tokio::process::Command rather than
// depending on a Go-native git implementation.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Revision identifies a single commit in the watched range.
type Revision struct {
	// Commit is the commit hash, used as the VersionId under
	// by_commit/no_caching cache policies.
	Commit string
	// Tree is the tree hash (ignores commit metadata), used as the
	// VersionId under the by_tree cache policy.
	Tree string
}

// Repo drives a single git repository checkout on disk.
type Repo struct {
	root string
}

// Open returns a Repo rooted at dir. It does not validate that dir is a git
// repository; the first command run against it will surface that error.
func Open(dir string) *Repo {
	return &Repo{root: dir}
}

// Root returns the main repository's working directory (LIMMAT_ORIGIN).
func (r *Repo) Root() string {
	return r.root
}

func (r *Repo) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, errBuf.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// Revisions returns the ordered set of revisions in base..HEAD, oldest
// first, each annotated with its tree hash.
func (r *Repo) Revisions(ctx context.Context, base string) ([]Revision, error) {
	out, err := r.run(ctx, r.root, "rev-list", "--reverse", fmt.Sprintf("%s..HEAD", base))
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	commits := strings.Split(out, "\n")
	revs := make([]Revision, 0, len(commits))
	for _, c := range commits {
		tree, err := r.run(ctx, r.root, "rev-parse", c+"^{tree}")
		if err != nil {
			return nil, fmt.Errorf("resolving tree for %s: %w", c, err)
		}
		revs = append(revs, Revision{Commit: c, Tree: tree})
	}
	return revs, nil
}

// ResolveHEAD returns the commit hash HEAD currently points at, for
// one-shot invocations that test the working directory as it stands
// rather than a revision from a watched range.
func (r *Repo) ResolveHEAD(ctx context.Context) (string, error) {
	return r.run(ctx, r.root, "rev-parse", "HEAD")
}

// Worktree is a disposable working directory checked out from a Repo.
type Worktree struct {
	repo *Repo
	path string
}

// NewWorktree creates a fresh `git worktree add --detach` checkout.
func (r *Repo) NewWorktree(ctx context.Context, path string) (*Worktree, error) {
	if _, err := r.run(ctx, r.root, "worktree", "add", "--detach", path, "HEAD"); err != nil {
		return nil, fmt.Errorf("creating worktree at %s: %w", path, err)
	}
	return &Worktree{repo: r, path: path}, nil
}

// Path returns the worktree's directory on disk.
func (w *Worktree) Path() string {
	return w.path
}

// Checkout switches the worktree to the given revision.
func (w *Worktree) Checkout(ctx context.Context, rev string) error {
	if _, err := w.repo.run(ctx, w.path, "checkout", "--force", rev); err != nil {
		return fmt.Errorf("checking out %s in %s: %w", rev, w.path, err)
	}
	return nil
}

// Remove deletes the worktree's directory and unregisters it from git.
func (w *Worktree) Remove(ctx context.Context) error {
	_, err := w.repo.run(ctx, w.repo.root, "worktree", "remove", "--force", w.path)
	return err
}
