package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stackshield-go/errcode"
	"stackshield-go/services/shield"
)

func (a *app) connectCmd() *cobra.Command {
	var disconnect bool
	cmd := &cobra.Command{
		Use:   "tss [tss] [test_ch] [target_ch]",
		Short: "Target stack shield controller",
		Long: `Route one test channel to one target on a target stack shield.

Every argument defaults to 0. The shield is reset and fully disconnected
before the new route is made, so exactly one route is held afterwards.

Examples:
  tss 2 1 3              # connect test channel 1 to target 3 on shield 2
  tss 2 --disconnect     # open every switch on shield 2
  tss status             # show every shield
  tss verify --all       # sweep every shield with a daughterboard`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals := [3]int{}
			for i, s := range args {
				n, err := parseUint(s, [...]string{"tss", "test_ch", "target_ch"}[i])
				if err != nil {
					return err
				}
				vals[i] = n
			}
			return a.connect(vals[0], vals[1], vals[2], disconnect)
		},
	}
	cmd.Flags().BoolVarP(&disconnect, "disconnect", "d", false, "disconnect every route on the shield and exit")
	return cmd
}

// connect resets the shield, then either leaves it open or makes one route.
// Ranges are checked before the bus is touched.
func (a *app) connect(tss, testCh, targetCh int, disconnectOnly bool) error {
	pos, err := shield.ParsePosition(tss)
	if err != nil {
		return err
	}
	var (
		ch shield.Channel
		tg shield.Target
	)
	if !disconnectOnly {
		if ch, err = shield.ParseChannel(testCh); err != nil {
			return err
		}
		if tg, err = shield.ParseTarget(targetCh); err != nil {
			return err
		}
	}

	if err := a.open(); err != nil {
		return err
	}
	ctl := a.controller(pos)
	if err := ctl.InitPins(); err != nil {
		return err
	}
	if err := ctl.DisconnectAll(); err != nil {
		return err
	}
	if disconnectOnly {
		fmt.Fprintf(a.out, "Successfully disconnected all connections on TSS %d\n", pos)
		return nil
	}

	present, err := ctl.DaughterboardIsConnected()
	if err != nil {
		return err
	}
	if !present {
		return errcode.New(errcode.NoDaughterboard, "tss.connect", fmt.Sprintf("no daughterboard detected on TSS %d", pos))
	}
	if err := ctl.ConnectTestChannelToTarget(ch, tg); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Successfully connected test channel %d to target %d on TSS %d\n", ch, tg, pos)
	return nil
}

func parseUint(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errcode.New(errcode.InvalidParams, "tss.args", fmt.Sprintf("%s %q is not a number", name, s))
	}
	return n, nil
}
