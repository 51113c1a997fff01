package cmd

import "testing"

func TestWatchCommand_RequiresExactlyOneArg(t *testing.T) {
	if err := watchCmd.Args(watchCmd, nil); err == nil {
		t.Error("expected an error with no base revision argument")
	}
	if err := watchCmd.Args(watchCmd, []string{"main", "extra"}); err == nil {
		t.Error("expected an error with more than one argument")
	}
	if err := watchCmd.Args(watchCmd, []string{"main"}); err != nil {
		t.Errorf("unexpected error with exactly one argument: %v", err)
	}
}

func TestWatchCommand_FailsFastOnUnreadableManifest(t *testing.T) {
	dir := t.TempDir()
	v.Set("config", dir+"/missing.yaml")
	v.Set("repo", dir)
	v.Set("num-worktrees", 0)
	v.Set("http", "")

	rootCmd.SetArgs([]string{"watch", "main"})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err == nil {
		t.Error("expected an error when the manifest cannot be read")
	}
}
