package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReposCmd(c *container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage the tracked repositories",
	}
	cmd.AddCommand(newReposAddCmd(c), newReposRemoveCmd(c), newReposListCmd(c))
	return cmd
}

func newReposAddCmd(c *container) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Track the working copy containing path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.registry.Add(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s at %s\n", repo.ID, repo.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Repository id (defaults to the directory name)")
	return cmd
}

func newReposRemoveCmd(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop tracking a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.registry.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := c.engine.Untrack(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newReposListCmd(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repos, err := c.engine.Repositories()
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no repositories tracked; use `gitdeck repos add <path>`")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPATH")
			for _, repo := range repos {
				fmt.Fprintf(tw, "%s\t%s\n", repo.ID, repo.Path)
			}
			return tw.Flush()
		},
	}
}
