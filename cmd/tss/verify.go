package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stackshield-go/errcode"
	"stackshield-go/services/history"
	"stackshield-go/services/report"
	"stackshield-go/services/shield"
	"stackshield-go/services/verify"
	"stackshield-go/types"
)

type verifyFlags struct {
	policy string
	report string
	all    bool
}

func (a *app) verifyCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify [tss...]",
		Short: "Sweep every target and channel pair through the self-test protocol",
		Long: `For each shield, route every (target, channel) pair in turn and run the
responder protocol over it: indicator selects and resets read back on the
sense lines, a serial echo, and the host output handshake.

With --all every position with a daughterboard is swept and empty positions
are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := parsePositions(args)
			if err != nil {
				return err
			}
			if !f.all && len(positions) == 0 {
				positions = []shield.Position{0}
			}
			return a.verify(positions, f)
		},
	}
	cmd.Flags().StringVar(&f.policy, "policy", "", "stop-on-first or collect-all (default from config)")
	cmd.Flags().StringVar(&f.report, "report", "", "write the sweep reports to a .yaml, .json or text file")
	cmd.Flags().BoolVar(&f.all, "all", false, "sweep every position with a daughterboard")
	return cmd
}

func (a *app) verify(positions []shield.Position, f verifyFlags) error {
	name := f.policy
	if name == "" {
		name = a.cfg.Verify.Policy
	}
	policy, err := verify.ParsePolicy(name)
	if err != nil {
		return err
	}
	if err := a.open(); err != nil {
		return err
	}
	if f.all {
		if positions, err = a.seated(); err != nil {
			return err
		}
		if len(positions) == 0 {
			return errcode.New(errcode.NoDaughterboard, "tss.verify", "no daughterboard on any TSS")
		}
	}
	drivers, err := a.openDrivers()
	if err != nil {
		return err
	}

	var store *history.Store
	if a.cfg.History.Enabled {
		if store, err = history.Open(a.cfg.History.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	var (
		reps []types.SweepReport
		errs []error
	)
	for _, pos := range positions {
		h, err := verify.NewHarness(a.controller(pos), drivers, verify.HarnessOptions{Policy: policy, Conn: a.conn, Log: a.log})
		if err != nil {
			return err
		}
		rep, err := h.Sweep(a.ctx)
		reps = append(reps, rep)
		if err := report.Write(a.out, report.Text, rep); err != nil {
			return err
		}
		if store != nil {
			if _, serr := store.Save(a.ctx, rep); serr != nil {
				a.log.WithError(serr).Warn("history not saved")
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("tss %d: %w", pos, err))
			if a.ctx.Err() != nil {
				break
			}
		}
	}

	if f.report != "" {
		if err := report.WriteFile(f.report, reps...); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// seated lists positions whose expander answers and reports a daughterboard.
// Probed positions are left initialised and open.
func (a *app) seated() ([]shield.Position, error) {
	var out []shield.Position
	for p := shield.Position(0); p < shield.Positions; p++ {
		ctl := a.controller(p)
		if err := ctl.InitPins(); err != nil {
			if errors.Is(err, errcode.BusError) {
				a.log.WithField("tss", int(p)).Debug("no expander")
				continue
			}
			return nil, err
		}
		present, err := ctl.DaughterboardIsConnected()
		if err != nil {
			return nil, err
		}
		if present {
			out = append(out, p)
		}
	}
	return out, nil
}
