package cmd

import (
	"fmt"
	"strings"

	"github.com/compozy/gitdeck/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCmd(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:\t%s\n", safeValue(version.Version, "dev"))
			fmt.Fprintf(out, "Commit:\t%s\n", safeValue(version.CommitHash, "unknown"))
			fmt.Fprintf(out, "Built:\t%s\n", safeValue(version.BuildDate, "unknown"))
			gitVersion := "unavailable"
			if v, err := c.adapter.CheckVersion(cmd.Context()); err == nil {
				gitVersion = v.String()
			} else if v != nil {
				gitVersion = v.String() + " (unsupported)"
			}
			fmt.Fprintf(out, "Git:\t%s\n", gitVersion)
			return nil
		},
	}
}

func safeValue(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
