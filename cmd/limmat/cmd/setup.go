package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"limmat/internal/config"
	"limmat/internal/graph"
	"limmat/internal/manifest"
	"limmat/internal/resource"
	"limmat/internal/vcs"
)

// setup is what watch and test share: the resolved ambient config, the
// parsed and lowered manifest, the validated test graph, and a vcs.Repo
// rooted at the configured repository.
type setup struct {
	cfg          *config.Config
	graph        *graph.Graph
	poolTokens   map[string][]string
	numWorktrees int
	repo         *vcs.Repo
}

// build resolves ambient configuration and the manifest for one CLI
// invocation. flags is the invoking command's flag set; it is passed on to
// config.Load, which resolves every setting through the shared Viper
// instance rather than from flags.
func build(flags *pflag.FlagSet) (*setup, error) {
	cfg, err := config.Load(v, flags)
	if err != nil {
		return nil, fmt.Errorf("resolving configuration: %w", err)
	}

	data, err := os.ReadFile(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", cfg.ManifestPath, err)
	}
	doc, err := manifest.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", cfg.ManifestPath, err)
	}

	tests, poolSizes, poolTokens, err := manifest.Lower(doc)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest %s: %w", cfg.ManifestPath, err)
	}

	g, err := graph.Build(tests, poolSizes)
	if err != nil {
		return nil, fmt.Errorf("building test graph: %w", err)
	}

	numWorktrees := doc.NumWorktrees
	if numWorktrees <= 0 {
		numWorktrees = 8
	}
	if cfg.NumWorktreesOverride > 0 {
		numWorktrees = cfg.NumWorktreesOverride
	}

	return &setup{
		cfg:          cfg,
		graph:        g,
		poolTokens:   poolTokens,
		numWorktrees: numWorktrees,
		repo:         vcs.Open(cfg.RepoRoot),
	}, nil
}

// resourcePool constructs the ResourcePool from the manifest's declared
// resources.
func resourcePool(tokens map[string][]string) *resource.Pool {
	return resource.New(tokens)
}
