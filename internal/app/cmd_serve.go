package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casewatch/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process uploads dropped into the inbox on the configured schedule",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			if err := os.MkdirAll(rt.Cfg.InboxDir, 0o755); err != nil {
				return fmt.Errorf("create inbox %s: %w", rt.Cfg.InboxDir, err)
			}
			sched, err := scheduler.New(scheduler.Config{
				Schedule: rt.Cfg.Schedule,
				InboxDir: rt.Cfg.InboxDir,
				Location: rt.Cfg.Location,
			}, rt.handleJob)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				res, err := sched.Tick(ctx)
				fmt.Fprintf(rt.Out, "Processed %d uploads, %d failed\n", res.Processed, res.Failed)
				return err
			}
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&once, "once", false, "process the inbox now and exit")
	return cmd
}

func (r *Runtime) handleJob(ctx context.Context, job scheduler.Job) error {
	switch job.Kind {
	case scheduler.KindClosed:
		_, err := r.applyClosed(job.Path)
		return err
	default:
		result, err := r.processUpload(ctx, job.Path, "")
		if err == nil {
			log.Printf("scheduled run run_id=%s cases=%d gate1=%d gate2=%d health=%.1f",
				result.RunID, result.CasesInUpload, result.Gate1Opened, result.Gate2Opened, result.Health.Score)
		}
		return err
	}
}
