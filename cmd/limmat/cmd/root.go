// Package cmd implements limmat's Cobra command tree: watch and test,
// sharing a Viper instance the same way the teacher CLI's root command
// binds persistent flags into Viper (cmd/cli/cmd/root.go) before its
// subcommands read them back out.
package cmd

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

const longHelpMarkdown = `limmat is a local continuous-integration engine: point it at a repository
and a manifest of tests, and it keeps every commit in a revision range
tested as the range moves, showing live results in a terminal dashboard
and, optionally, a web UI.

Configuration may come from flags or ` + "`LIMMAT_`" + `-prefixed
environment variables (` + "`LIMMAT_CONFIG`" + `, ` + "`LIMMAT_REPO`" + `, ` + "`LIMMAT_HTTP`" + `).`

var rootCmd = &cobra.Command{
	Use:           "limmat",
	Short:         "limmat runs a repository's tests against every commit in a range as it changes",
	Long:          longHelpMarkdown,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "limmat.yaml", "manifest location")
	rootCmd.PersistentFlags().String("repo", ".", "main repository root")
	rootCmd.PersistentFlags().String("http", "", "enable the web UI on this address, e.g. :8080")
	rootCmd.PersistentFlags().Int("num-worktrees", 0, "override the manifest's num_worktrees (0 = use manifest value)")

	for _, name := range []string{"config", "repo", "http", "num-worktrees"} {
		_ = v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	v.SetEnvPrefix("LIMMAT")
	v.AutomaticEnv()

	rootCmd.SetHelpFunc(renderMarkdownHelp)
}

// renderMarkdownHelp replaces Cobra's default help output with one that
// renders Long as markdown through glamour, falling back to the plain
// text (glamour's own behavior without a terminal) on render failure.
func renderMarkdownHelp(cmd *cobra.Command, args []string) {
	body := cmd.Long
	if body == "" {
		body = cmd.Short
	}
	if rendered, err := glamour.Render(body, "dark"); err == nil {
		fmt.Fprint(cmd.OutOrStdout(), rendered)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), body)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cmd.UsageString())
}
