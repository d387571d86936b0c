package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/compozy/gitdeck/internal/events"
	"github.com/compozy/gitdeck/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh statuses as working copies change",
		Long: `Watch every tracked working copy and refresh its status whenever files
change. Status changes and completed operations are printed as they happen.
Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := c.requireGit(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			unsubStatus := c.engine.Subscribe(events.TopicStatusChanged, func(_ context.Context, payload any) error {
				ev, ok := payload.(events.StatusChanged)
				if !ok {
					return fmt.Errorf("unexpected payload %T", payload)
				}
				fmt.Fprintln(out, summarizeStatus(ev.Status))
				return nil
			})
			defer unsubStatus()
			unsubOps := c.engine.Subscribe(events.TopicOperationCompleted, func(_ context.Context, payload any) error {
				ev, ok := payload.(events.OperationCompleted)
				if !ok {
					return fmt.Errorf("unexpected payload %T", payload)
				}
				if !ev.Result.Success {
					fmt.Fprintln(out, summarizeResult(ev.Result))
				}
				return nil
			})
			defer unsubOps()

			w := watcher.New(func(repoID string) {
				go func() {
					if _, err := c.engine.RefreshStatus(ctx, repoID); err != nil && ctx.Err() == nil {
						c.logger.Warn("refresh after change failed", zap.String("repo", repoID), zap.Error(err))
					}
				}()
			}, c.cfg.WatchDebounce, c.logger.Named("watcher"))
			defer w.Close()

			repos, err := c.engine.Repositories()
			if err != nil {
				return err
			}
			for _, repo := range repos {
				if err := w.Watch(repo); err != nil {
					c.logger.Warn("cannot watch repository", zap.String("repo", repo.ID), zap.Error(err))
				}
			}
			if len(w.Watched()) == 0 {
				return fmt.Errorf("no repositories to watch")
			}
			if _, err := c.engine.RefreshAll(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}
