package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stackshield-go/services/history"
	"stackshield-go/services/report"
	"stackshield-go/services/shield"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		limit int
		tss   int
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tss >= 0 {
				if _, err := shield.ParsePosition(tss); err != nil {
					return err
				}
			}
			store, err := history.Open(a.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(a.ctx, tss, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "no sweeps recorded")
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "#%d ", e.ID)
				if err := report.Write(a.out, report.Text, e.Report); err != nil {
					return err
				}
			}
			if !stats || tss < 0 {
				return nil
			}
			counts, err := store.FailureCounts(a.ctx, tss)
			if err != nil {
				return err
			}
			for _, c := range counts {
				fmt.Fprintf(a.out, "target %d channel %d: %d failures\n", c.Target, c.Channel, c.Failures)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of sweeps to list")
	cmd.Flags().IntVar(&tss, "tss", -1, "only this position (-1 for all)")
	cmd.Flags().BoolVar(&stats, "stats", false, "rank failing pairs (needs --tss)")
	return cmd
}
