// Package graph builds and validates the static DAG of test definitions
// described by a manifest: names, dependency edges, resource demands and
// the stable configuration hash used as half of a ResultKey.
package graph

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// CachePolicy controls how a test's outcome is keyed in the result database.
type CachePolicy string

const (
	CacheByCommit CachePolicy = "by_commit"
	CacheByTree   CachePolicy = "by_tree"
	CacheNone     CachePolicy = "no_caching"
)

// Command is either a shell string (run via "/bin/sh -c") or an explicit
// argv vector.
type Command struct {
	Shell string
	Argv  []string
}

// Program returns the executable to spawn.
func (c Command) Program() string {
	if len(c.Argv) > 0 {
		return c.Argv[0]
	}
	return "/bin/sh"
}

// Args returns the arguments to pass to Program.
func (c Command) Args() []string {
	if len(c.Argv) > 0 {
		return c.Argv[1:]
	}
	return []string{"-c", c.Shell}
}

func (c Command) canonical() string {
	if len(c.Argv) > 0 {
		return "argv:" + strings.Join(c.Argv, "\x1f")
	}
	return "shell:" + c.Shell
}

// ResourceDemand is a (name, count) pair a test requires from the
// ResourcePool. The worktree is modeled separately (NeedsWorktree), not as
// a resource demand, mirroring the split ResourcePool/WorktreePool design.
type ResourceDemand struct {
	Name  string
	Count int
}

// TestConfig is a fully-resolved, immutable test definition: the manifest's
// Test struct plus its computed ConfigHash and parsed Command.
type TestConfig struct {
	Name                 string
	Command              Command
	NeedsWorktree        bool
	DependsOn            []string
	Resources            []ResourceDemand
	Cache                CachePolicy
	ShutdownGracePeriod  time.Duration
	ConfigHash           uint64
}

// RawTest is the manifest-shaped input to Build, before dependency hashes
// have been resolved.
type RawTest struct {
	Name                string
	Command             Command
	NeedsWorktree       bool
	DependsOn           []string
	Resources           []ResourceDemand
	Cache               CachePolicy
	ShutdownGracePeriod time.Duration
}

// Graph is the validated, topologically resolvable set of tests.
type Graph struct {
	byName map[string]*TestConfig
	order  []string // manifest declaration order, preserved for dispatch tie-breaking
}

// Tests returns all tests in manifest declaration order.
func (g *Graph) Tests() []*TestConfig {
	out := make([]*TestConfig, len(g.order))
	for i, name := range g.order {
		out[i] = g.byName[name]
	}
	return out
}

// Test looks up a test by name. ok is false if it does not exist.
func (g *Graph) Test(name string) (*TestConfig, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// TopoOrder returns every test such that each test appears after all of
// its dependencies, breaking ties by manifest declaration order. The
// scheduler uses this to construct cells for a new revision so that a
// dependency's cell always exists before its dependent's initial
// Blocked/Pending classification is computed.
func (g *Graph) TopoOrder() []*TestConfig {
	visited := make(map[string]bool, len(g.order))
	out := make([]*TestConfig, 0, len(g.order))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		cfg := g.byName[name]
		for _, dep := range cfg.DependsOn {
			visit(dep)
		}
		out = append(out, cfg)
	}
	for _, name := range g.order {
		visit(name)
	}
	return out
}

// Build validates raw test definitions and computes each test's
// ConfigHash, recursively over its dependency hashes.
//
// Validation performed here (see TestGraph contract):
//   - names are unique
//   - depends_on refers only to declared tests
//   - the dependency relation is acyclic
//   - every resource referenced has a declared pool with sufficient count
func Build(tests []RawTest, resourcePoolSizes map[string]int) (*Graph, error) {
	byName := make(map[string]*RawTest, len(tests))
	order := make([]string, 0, len(tests))
	for i := range tests {
		t := &tests[i]
		if t.Name == "" {
			return nil, fmt.Errorf("test at position %d has no name", i)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate test name %q", t.Name)
		}
		byName[t.Name] = t
		order = append(order, t.Name)
	}

	for _, t := range tests {
		for _, dep := range t.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("test %q depends on undeclared test %q", t.Name, dep)
			}
		}
		for _, r := range t.Resources {
			size, ok := resourcePoolSizes[r.Name]
			if !ok {
				return nil, fmt.Errorf("test %q references undeclared resource %q", t.Name, r.Name)
			}
			if r.Count > size {
				return nil, fmt.Errorf("test %q demands %d of resource %q but pool only has %d", t.Name, r.Count, r.Name, size)
			}
		}
	}

	if err := checkAcyclic(byName); err != nil {
		return nil, err
	}

	g := &Graph{byName: make(map[string]*TestConfig, len(tests)), order: order}
	var resolve func(name string) (*TestConfig, error)
	resolve = func(name string) (*TestConfig, error) {
		if existing, ok := g.byName[name]; ok {
			return existing, nil
		}
		raw := byName[name]

		h := fnv.New64a()
		writeCanonical(h, raw)

		depHashes := make([]uint64, 0, len(raw.DependsOn))
		for _, dep := range raw.DependsOn {
			depCfg, err := resolve(dep)
			if err != nil {
				return nil, err
			}
			depHashes = append(depHashes, depCfg.ConfigHash)
		}
		// Dependency hashes contribute in depends_on declaration order (not
		// sorted), so listing the same dependencies in a different order
		// yields a different ConfigHash.
		for _, dh := range depHashes {
			fmt.Fprintf(h, "dep:%x;", dh)
		}

		cfg := &TestConfig{
			Name:                raw.Name,
			Command:             raw.Command,
			NeedsWorktree:       raw.NeedsWorktree,
			DependsOn:           append([]string(nil), raw.DependsOn...),
			Resources:           append([]ResourceDemand(nil), raw.Resources...),
			Cache:               raw.Cache,
			ShutdownGracePeriod: raw.ShutdownGracePeriod,
			ConfigHash:          h.Sum64(),
		}
		g.byName[name] = cfg
		return cfg, nil
	}

	for _, name := range order {
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func writeCanonical(h interface{ Write([]byte) (int, error) }, t *RawTest) {
	fmt.Fprintf(h, "name:%s;cmd:%s;worktree:%v;cache:%s;grace:%s;", t.Name, t.Command.canonical(), t.NeedsWorktree, t.Cache, t.ShutdownGracePeriod)
	resources := append([]ResourceDemand(nil), t.Resources...)
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	for _, r := range resources {
		fmt.Fprintf(h, "res:%s=%d;", r.Name, r.Count)
	}
}

func checkAcyclic(byName map[string]*RawTest) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(byName))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			cycle := append(append([]string(nil), stack...), name)
			return fmt.Errorf("cyclic test dependency: %s", strings.Join(cycle, " -> "))
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for name := range byName {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
