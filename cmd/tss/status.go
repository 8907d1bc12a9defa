package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stackshield-go/errcode"
	"stackshield-go/services/shield"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [tss...]",
		Short: "Show daughterboard presence and held routes",
		Long: `Read each shield's expander without changing it. Routes are decoded
from the output latch, so routes made by an earlier tss run are shown.
With no arguments every position is read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := parsePositions(args)
			if err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			if len(positions) == 0 {
				for p := shield.Position(0); p < shield.Positions; p++ {
					positions = append(positions, p)
				}
			}
			var errs []error
			for _, pos := range positions {
				if err := a.status(pos, len(args) > 0); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// status prints one position. When the position was not named explicitly a
// missing or unconfigured expander is reported but is not an error.
func (a *app) status(pos shield.Position, explicit bool) error {
	ctl := a.controller(pos)
	addr := pos.Address(uint16(a.cfg.I2C.BaseAddr))
	if err := ctl.Resume(); err != nil {
		switch {
		case errors.Is(err, errcode.NotInitialised):
			fmt.Fprintf(a.out, "tss %d @0x%02x: not initialised\n", pos, addr)
			return nil
		case errors.Is(err, errcode.BusError) && !explicit:
			fmt.Fprintf(a.out, "tss %d @0x%02x: no expander\n", pos, addr)
			return nil
		}
		return err
	}
	st, err := ctl.Status()
	if err != nil {
		return err
	}
	board := "no daughterboard"
	if st.Present {
		board = "daughterboard present"
	}
	fmt.Fprintf(a.out, "tss %d @0x%02x: %s, outputs 0x%04x, routes %s\n",
		pos, st.Address, board, st.Outputs, formatRoutes(st.Wired))
	return nil
}

func formatRoutes(rs []shield.Route) string {
	if len(rs) == 0 {
		return "none"
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("ch%d->t%d", r.Channel, r.Target)
	}
	return strings.Join(parts, " ")
}
