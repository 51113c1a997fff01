package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initRepo creates a throwaway git repository with one initial commit and
// returns a Repo rooted at it. Mirrors the Fixture helper the original
// engine used in its own test suite (PersistentWorktree::create +
// repo.commit).
func initRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("commit", "--allow-empty", "-m", "initial")
	return Open(dir)
}

func commit(t *testing.T, repo *Repo, msg string) string {
	t.Helper()
	cmd := exec.Command("git", "commit", "--allow-empty", "-m", msg)
	cmd.Dir = repo.Root()
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}
	head, err := repo.run(context.Background(), repo.Root(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	return head
}

func TestRevisions_ReturnsRangeOldestFirst(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	base, err := repo.run(ctx, repo.Root(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}

	c1 := commit(t, repo, "one")
	c2 := commit(t, repo, "two")

	revs, err := repo.Revisions(ctx, base)
	if err != nil {
		t.Fatalf("Revisions failed: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revs))
	}
	if revs[0].Commit != c1 || revs[1].Commit != c2 {
		t.Errorf("unexpected order: %+v", revs)
	}
	if revs[0].Tree == "" {
		t.Error("expected non-empty tree hash")
	}
}

func TestRevisions_EmptyRange(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	head, err := repo.run(ctx, repo.Root(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	revs, err := repo.Revisions(ctx, head)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 0 {
		t.Errorf("expected empty range, got %v", revs)
	}
}

func TestWorktree_CheckoutAndRemove(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	c1 := commit(t, repo, "one")

	wtPath := filepath.Join(t.TempDir(), "wt")
	wt, err := repo.NewWorktree(ctx, wtPath)
	if err != nil {
		t.Fatalf("NewWorktree failed: %v", err)
	}

	if err := wt.Checkout(ctx, c1); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}

	head, err := repo.run(ctx, wt.Path(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if head != c1 {
		t.Errorf("worktree HEAD = %s, want %s", head, c1)
	}

	if err := wt.Remove(ctx); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Errorf("expected worktree dir removed, stat err = %v", err)
	}
}
