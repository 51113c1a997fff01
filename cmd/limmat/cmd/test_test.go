package cmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// initGitRepo creates a throwaway repository with one commit, the way
// internal/vcs's own tests do, so `limmat test` can resolve LIMMAT_COMMIT
// against a real HEAD.
func initGitRepo(t *testing.T) string {
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
	return dir
}

func runTestCommand(t *testing.T, dir, manifestYAML, name string) error {
	t.Helper()
	manifestPath := filepath.Join(dir, "limmat.yaml")
	if err := os.WriteFile(manifestPath, []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	v.Set("config", manifestPath)
	v.Set("repo", dir)
	v.Set("num-worktrees", 0)

	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(newTestFlagSet())
	cmd.SetContext(context.Background())
	return runTest(cmd, []string{name})
}

func TestRunTest_SuccessfulCommandReturnsNil(t *testing.T) {
	dir := initGitRepo(t)
	err := runTestCommand(t, dir, `
tests:
  - name: ok
    command: "true"
    needs_worktree: false
`, "ok")
	if err != nil {
		t.Errorf("expected nil error for a passing test, got %v", err)
	}
}

func TestRunTest_FailingCommandReturnsExitCodeError(t *testing.T) {
	dir := initGitRepo(t)
	err := runTestCommand(t, dir, `
tests:
  - name: fail
    command: "exit 3"
    needs_worktree: false
`, "fail")
	if err == nil {
		t.Fatal("expected an error for a failing test")
	}
	code, ok := ExitCode(err)
	if !ok {
		t.Fatalf("expected an *exitCodeError, got %T: %v", err, err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestRunTest_UnknownTestNameFails(t *testing.T) {
	dir := initGitRepo(t)
	err := runTestCommand(t, dir, `
tests:
  - name: ok
    command: "true"
`, "does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unknown test name")
	}
}
