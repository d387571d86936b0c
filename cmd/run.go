package cmd

import (
	"fmt"
	"strings"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/spf13/cobra"
)

func newRunCmd(c *container) *cobra.Command {
	var (
		rawParams []string
		asJSON    bool
	)
	kinds := make([]string, 0, len(domain.OperationKinds()))
	for _, k := range domain.OperationKinds() {
		kinds = append(kinds, string(k))
	}
	cmd := &cobra.Command{
		Use:   "run <repo> <operation>",
		Short: "Run an operation against a tracked repository",
		Long: fmt.Sprintf(`Run an operation against a tracked repository and wait for its result.

Operations: %s

Parameters are passed as --param key=value, for example:
  gitdeck run api commit --param message="fix typo"
  gitdeck run api rebase_start --param onto=origin/main`, strings.Join(kinds, ", ")),
		Args:      cobra.ExactArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseOperationKind(args[1])
			if err != nil {
				return err
			}
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			if err := c.requireGit(cmd.Context()); err != nil {
				return err
			}
			opID, err := c.engine.SubmitOperation(args[0], kind, params)
			if err != nil {
				return err
			}
			result, err := c.engine.Await(cmd.Context(), opID)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), summarizeResult(result))
				if out := strings.TrimSpace(result.Stdout); out != "" {
					fmt.Fprintln(cmd.OutOrStdout(), out)
				}
				if status, ok := c.engine.Status(args[0]); ok {
					fmt.Fprintln(cmd.OutOrStdout(), summarizeStatus(status))
				}
			}
			if !result.Success {
				if stderr := strings.TrimSpace(result.Stderr); stderr != "" && !asJSON {
					fmt.Fprintln(cmd.ErrOrStderr(), stderr)
				}
				return fmt.Errorf("%s failed: %s", kind, result.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "Operation parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
