package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		openPath   string
		closedPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process an open-case upload through the escalation gates",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			if openPath == "" {
				return errors.New("--open is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := rt.processUpload(ctx, openPath, closedPath)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if asJSON {
				if perr := printJSON(rt.Out, result); perr != nil {
					return perr
				}
			} else {
				printRunResult(rt.Out, result)
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&openPath, "open", "", "open-case upload (JSON)")
	cmd.Flags().StringVar(&closedPath, "closed", "", "closed-case list applied before the run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}
