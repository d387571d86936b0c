package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(c *container) *cobra.Command {
	var (
		maxAge  time.Duration
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "status [repo...]",
		Short: "Show the status of tracked repositories",
		Long: `Show the status of tracked repositories.

Snapshots younger than --max-age are served from the cache; older ones are
refreshed behind any operation already queued for the repository.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireGit(cmd.Context()); err != nil {
				return err
			}
			ids, err := selectRepos(c, args)
			if err != nil {
				return err
			}
			statuses := make([]*domain.RepoStatus, 0, len(ids))
			var errs []error
			for _, id := range ids {
				status, err := c.engine.StatusFresh(cmd.Context(), id, maxAge)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				statuses = append(statuses, status)
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), statuses); err != nil {
					return err
				}
				return errors.Join(errs...)
			}
			for _, s := range statuses {
				fmt.Fprintln(cmd.OutOrStdout(), summarizeStatus(s))
				if verbose {
					printChanges(cmd, s)
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", c.cfg.StatusMaxAge, "Serve cached snapshots younger than this")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print snapshots as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List changed files")
	return cmd
}

func newRefreshCmd(c *container) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read the status of every tracked repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireGit(cmd.Context()); err != nil {
				return err
			}
			results, err := c.engine.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			var errs []error
			statuses := make([]*domain.RepoStatus, 0, len(results))
			for _, r := range results {
				if r.Err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", r.Repository.ID, r.Err))
					continue
				}
				statuses = append(statuses, r.Status)
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), statuses); err != nil {
					return err
				}
			} else {
				for _, s := range statuses {
					fmt.Fprintln(cmd.OutOrStdout(), summarizeStatus(s))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print snapshots as JSON")
	return cmd
}

// selectRepos resolves explicit ids against the registry, or returns every
// tracked repository when none are given.
func selectRepos(c *container, args []string) ([]string, error) {
	if len(args) > 0 {
		for _, id := range args {
			if _, err := c.registry.Lookup(id); err != nil {
				return nil, err
			}
		}
		return args, nil
	}
	repos, err := c.engine.Repositories()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func printChanges(cmd *cobra.Command, s *domain.RepoStatus) {
	groups := [][]domain.FileChange{s.Changes.Staged, s.Changes.Unstaged, s.Changes.Untracked}
	for _, group := range groups {
		for _, ch := range group {
			line := fmt.Sprintf("    %-9s %s %s", ch.Kind, ch.Status, ch.Path)
			if ch.OldPath != "" {
				line += " (from " + ch.OldPath + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
}
