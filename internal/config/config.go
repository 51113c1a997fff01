// Package config resolves the engine-wide settings that back cmd/limmat's
// flags: the manifest path, the repository root, the web UI listen address,
// and a num-worktrees override. It layers Viper over Cobra flags the same
// way the teacher's CLI layers Viper over its own persistent flags
// (cmd/cli/cmd/root.go): flags bind into Viper, and LIMMAT_-prefixed
// environment variables (via AutomaticEnv) supply values for flags that were
// not set explicitly. No configuration file is read.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the resolved engine-wide settings for one invocation of
// cmd/limmat.
type Config struct {
	// ManifestPath is the YAML manifest location (--config).
	ManifestPath string
	// RepoRoot is the main repository's working directory (--repo).
	RepoRoot string
	// HTTPAddr enables the web UI when non-empty (--http).
	HTTPAddr string
	// NumWorktreesOverride, when > 0, overrides the manifest's
	// num_worktrees (--num-worktrees).
	NumWorktreesOverride int
}

// Load resolves Config from Cobra flags already bound into v, using the
// precedence Viper gives once BindPFlag has been called for every flag: an
// explicitly set flag, then a LIMMAT_ environment variable, then the flag's
// default. v is the *viper.Viper the caller's root command configured with
// SetEnvPrefix + AutomaticEnv; flags is not read, since v alone resolves
// every key.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	manifestPath := v.GetString("config")
	if manifestPath == "" {
		manifestPath = "limmat.yaml"
	}
	repoRoot := v.GetString("repo")
	if repoRoot == "" {
		repoRoot = "."
	}

	cfg := &Config{
		ManifestPath:         manifestPath,
		RepoRoot:             repoRoot,
		HTTPAddr:             v.GetString("http"),
		NumWorktreesOverride: v.GetInt("num-worktrees"),
	}

	if cfg.NumWorktreesOverride < 0 {
		return nil, fmt.Errorf("--num-worktrees must not be negative, got %d", cfg.NumWorktreesOverride)
	}
	return cfg, nil
}
