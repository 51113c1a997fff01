package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
num_worktrees: 2
tests:
  - name: build
    command: "true"
  - name: check
    command: ["true"]
    depends_on: [build]
    needs_worktree: false
`

func newTestFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "limmat.yaml", "")
	fs.String("repo", ".", "")
	fs.String("http", "", "")
	fs.Int("num-worktrees", 0, "")
	return fs
}

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "limmat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	return path
}

func TestBuild_ParsesManifestAndGraph(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir)
	v.Set("config", manifestPath)
	v.Set("repo", dir)
	v.Set("num-worktrees", 0)

	s, err := build(newTestFlagSet())
	require.NoError(t, err)

	_, ok := s.graph.Test("build")
	assert.True(t, ok, "expected graph to contain the build test")
	_, ok = s.graph.Test("check")
	assert.True(t, ok, "expected graph to contain the check test")
	assert.Equal(t, 2, s.numWorktrees, "numWorktrees should come from the manifest")
}

func TestBuild_NumWorktreesOverrideWins(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir)
	v.Set("config", manifestPath)
	v.Set("repo", dir)
	v.Set("num-worktrees", 5)

	s, err := build(newTestFlagSet())
	require.NoError(t, err)
	assert.Equal(t, 5, s.numWorktrees, "--num-worktrees should override the manifest value")
}

func TestBuild_MissingManifestFileFails(t *testing.T) {
	dir := t.TempDir()
	v.Set("config", filepath.Join(dir, "does-not-exist.yaml"))
	v.Set("repo", dir)
	v.Set("num-worktrees", 0)

	_, err := build(newTestFlagSet())
	assert.Error(t, err, "expected an error for a missing manifest file")
}

func TestBuild_InvalidManifestFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limmat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tests: [{name: missing-command}]"), 0o644))
	v.Set("config", path)
	v.Set("repo", dir)
	v.Set("num-worktrees", 0)

	_, err := build(newTestFlagSet())
	assert.Error(t, err, "expected an error for a manifest test with no command")
}
