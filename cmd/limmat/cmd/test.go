package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"limmat/internal/graph"
	"limmat/internal/job"
	"limmat/internal/resource"
)

var testCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Run one named test once against the working directory, bypassing the cache and scheduler",
	Args:  cobra.ExactArgs(1),
	RunE:  runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	name := args[0]

	s, err := build(cmd.Flags())
	if err != nil {
		return err
	}

	tc, ok := s.graph.Test(name)
	if !ok {
		return fmt.Errorf("no such test %q", name)
	}

	pool := resourcePool(s.poolTokens)
	lease, err := pool.Request(cmd.Context(), toResourceDemands(tc.Resources))
	if err != nil {
		return fmt.Errorf("acquiring resources for %s: %w", name, err)
	}
	defer lease.Release()

	dir := s.repo.Root()
	workDir, err := os.MkdirTemp("", "limmat-test-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	revision, err := s.repo.ResolveHEAD(cmd.Context())
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}

	j := job.New(cmd.Context(), *tc, dir, workDir)
	j.Origin = s.repo.Root()
	j.Revision = revision
	j.ResourceEnv = testResourceEnv(lease, tc.Resources)

	outcome := j.Run()

	if stdout, err := os.ReadFile(outcome.StdoutPath); err == nil {
		os.Stdout.Write(stdout)
	}
	if stderr, err := os.ReadFile(outcome.StderrPath); err == nil {
		os.Stderr.Write(stderr)
	}

	switch outcome.Kind {
	case job.Success:
		return nil
	case job.Failure:
		return &exitCodeError{code: outcome.ExitCode}
	default:
		return fmt.Errorf("running %s: %w", name, outcome.Err)
	}
}

// exitCodeError carries a child process's nonzero exit code through to
// main, which exits with that code without printing anything for an
// ordinary test failure (Cobra itself prints no errors: SilenceErrors is on
// for the root command).
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// ExitCode extracts the child process exit code from an error returned by
// Execute, if it carries one (a failed `limmat test` run). main uses this
// to propagate the test's own exit status instead of always exiting 1.
func ExitCode(err error) (int, bool) {
	e, ok := err.(*exitCodeError)
	if !ok {
		return 0, false
	}
	return e.code, true
}

func toResourceDemands(demands []graph.ResourceDemand) []resource.Demand {
	out := make([]resource.Demand, len(demands))
	for i, d := range demands {
		out[i] = resource.Demand{Name: d.Name, Count: d.Count}
	}
	return out
}

func testResourceEnv(lease *resource.Lease, demands []graph.ResourceDemand) []string {
	if lease == nil {
		return nil
	}
	var env []string
	for _, d := range demands {
		toks := lease.Tokens(d.Name)
		upper := strings.ToUpper(d.Name)
		for i, tok := range toks {
			env = append(env, fmt.Sprintf("LIMMAT_RESOURCE_%s_%d=%s", upper, i, tok))
		}
		if len(toks) == 1 {
			env = append(env, fmt.Sprintf("LIMMAT_RESOURCE_%s=%s", upper, toks[0]))
		}
	}
	return env
}
