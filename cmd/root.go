package cmd

import (
	"github.com/compozy/gitdeck/pkg/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gitdeck",
	Short: "Track and operate on many local git working copies",
	Long: `gitdeck keeps a live status snapshot for every tracked working copy and runs
git operations against them through a per-repository queue, so operations on one
repository never overlap while different repositories progress in parallel.`,
	Version:       version.Summary(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command selected by os.Args.
func Execute() error {
	return rootCmd.Execute()
}
