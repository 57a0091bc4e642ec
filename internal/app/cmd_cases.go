package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"casewatch/internal/scoring"
)

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <file>",
		Short: "Mark the cases listed in a closed-case upload as closed",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(_ *cobra.Command, args []string, rt *Runtime) error {
			n, err := rt.applyClosed(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.Out, "Closed %d cases\n", n)
			return nil
		}),
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <case>",
		Short: "Drop a case's gates, quick score and timeline so it re-earns escalation",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(_ *cobra.Command, args []string, rt *Runtime) error {
			return rt.resetCase(args[0])
		}),
	}
}

func (r *Runtime) resetCase(key string) error {
	if err := r.Store.ResetGates(key); err != nil {
		return err
	}
	rec, _ := r.Store.Get(key)
	b := scoring.ScoreRecord(rec)
	if err := r.Store.SetCriticality(rec.Key, b); err != nil {
		return err
	}
	if err := r.Store.Save(); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Reset case %s, criticality now %.0f\n", rec.Key, b.Total)
	return nil
}

func clearCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [case]",
		Short: "Remove one case, or every case with --all, from the cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(_ *cobra.Command, args []string, rt *Runtime) error {
			switch {
			case all && len(args) > 0:
				return errors.New("pass a case or --all, not both")
			case all:
				n := rt.Store.ClearAll()
				if err := rt.Store.Save(); err != nil {
					return err
				}
				fmt.Fprintf(rt.Out, "Cleared %d cases\n", n)
			case len(args) == 1:
				if err := rt.Store.ClearCase(args[0]); err != nil {
					return err
				}
				if err := rt.Store.Save(); err != nil {
					return err
				}
				fmt.Fprintf(rt.Out, "Cleared case %s\n", args[0])
			default:
				return errors.New("pass a case or --all")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear the whole cache")
	return cmd
}
