package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"tinygo.org/x/drivers"

	"stackshield-go/bus"
	"stackshield-go/errcode"
	"stackshield-go/hal/halcore"
	"stackshield-go/hal/i2cbus"
	"stackshield-go/hal/platform"
	"stackshield-go/hal/sim"
	"stackshield-go/logger"
	"stackshield-go/services/bridge"
	"stackshield-go/services/config"
	"stackshield-go/services/shield"
	"stackshield-go/services/verify"
)

// Process exit codes.
const (
	exitOK              = 0
	exitFailure         = 1
	exitNoDaughterboard = 2
)

const bridgeFlushTimeout = 3 * time.Second

type app struct {
	out, errOut io.Writer

	// flags
	cfgPath  string
	verbose  int
	quiet    bool
	simulate bool

	cfg     *config.Config
	log     *logger.Log
	bus     *bus.Bus
	conn    *bus.Connection
	hw      halcore.Factories
	owner   *i2cbus.Owner
	i2c     drivers.I2C
	station *sim.Station // --sim; tests may preset it
	clock   verify.Clock // nil = wall clock

	ctx        context.Context
	stop       context.CancelFunc
	bridgeDone chan error
	stopBridge context.CancelFunc
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

// run executes args and maps the outcome to an exit code.
func (a *app) run(args []string) int {
	root := a.command()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(a.errOut, "error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errcode.NoDaughterboard):
		return exitNoDaughterboard
	default:
		return exitFailure
	}
}

func (a *app) command() *cobra.Command {
	root := a.connectCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) }

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", config.DefaultPath, "station configuration file")
	pf.CountVarP(&a.verbose, "verbose", "v", "more log output (-v info, -vv debug, -vvv trace)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "errors only")
	pf.BoolVar(&a.simulate, "sim", false, "run against a simulated station")

	root.AddCommand(a.statusCmd(), a.verifyCmd(), a.historyCmd())
	return root
}

// setup loads configuration and starts the event bus. A missing default
// config file falls back to the built-in Raspberry Pi wiring.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.NewLoggerTo(a.errOut, cfg.Log)
	if err != nil {
		return err
	}
	if a.verbose > 0 || a.quiet {
		if err := log.SetLevel(logger.Verbosity(a.verbose, a.quiet)); err != nil {
			return err
		}
	}
	a.log = log.With(logger.Fields{"module": "tss"})

	a.ctx, a.stop = signal.NotifyContext(context.Background(), os.Interrupt)
	a.bus = bus.NewBus(256)
	a.conn = a.bus.NewConnection("tss")
	if cfg.MQTT.Enabled {
		a.startBridge()
	}
	config.Publish(a.conn, cfg)

	return nil
}

// open brings up the I2C bus owner and the host channel hardware. Commands
// that touch the station call it; history does not.
func (a *app) open() error {
	if a.i2c != nil {
		return nil
	}
	if a.simulate {
		a.openSim()
	} else {
		hw, err := platform.Open(a.cfg.SerialFormat())
		if err != nil {
			return err
		}
		a.hw = hw
	}

	hwBus, ok := a.hw.I2C.ByID(a.cfg.I2C.Bus)
	if !ok {
		return errcode.New(errcode.BusError, "tss.open", fmt.Sprintf("no i2c bus %q", a.cfg.I2C.Bus))
	}
	a.owner = i2cbus.New(a.cfg.I2C.Bus, hwBus, a.cfg.I2C.Queue)
	a.i2c = a.owner.Handle(time.Duration(a.cfg.I2C.TimeoutMs) * time.Millisecond)
	a.log.WithField("sim", a.simulate).Debug("station open")
	return nil
}

func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flag("config"); f == nil || !f.Changed {
		if _, err := os.Stat(a.cfgPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(a.cfgPath)
}

// openSim wires the simulated station. Host channels take the simulator's
// sequential wiring in place of the configured GPIO numbers.
func (a *app) openSim() {
	base := uint16(a.cfg.I2C.BaseAddr)
	if a.station == nil {
		a.station = sim.NewStation(base, simDecoder, sim.SequentialWiring())
	}
	chans := make([]config.ChannelConf, 0, sim.Channels)
	for c, w := range sim.SequentialWiring() {
		chans = append(chans, config.ChannelConf{
			Index: c, Sense: w.Sense[:], Output: w.Output, Serial: w.Serial,
		})
	}
	a.cfg.Channels = chans
	a.hw = halcore.Factories{
		I2C:    simI2C{a.station.I2C},
		Pins:   a.station.Pins,
		Serial: a.station.Serial,
		Close:  func() error { return nil },
	}
}

func (a *app) startBridge() {
	pub := bridge.NewPaho(a.cfg.MQTT, a.log)
	svc := bridge.New(a.bus.NewConnection("bridge"), pub, a.cfg.MQTT, a.log)
	ctx, cancel := context.WithCancel(context.Background())
	a.stopBridge = cancel
	a.bridgeDone = make(chan error, 1)
	go func() { a.bridgeDone <- svc.Run(ctx) }()
}

// close flushes the bridge and releases hardware handles.
func (a *app) close() {
	log := logger.OrDiscard(a.log)
	if a.stopBridge != nil {
		a.stopBridge()
		select {
		case err := <-a.bridgeDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("mqtt bridge")
			}
		case <-time.After(bridgeFlushTimeout):
			log.Warn("mqtt bridge did not stop in time")
		}
	}
	if a.owner != nil {
		a.owner.Close()
	}
	if a.hw.Close != nil {
		if err := a.hw.Close(); err != nil {
			log.WithError(err).Warn("closing hardware")
		}
	}
	if a.stop != nil {
		a.stop()
	}
}

func (a *app) controller(pos shield.Position) *shield.Controller {
	base := uint16(a.cfg.I2C.BaseAddr)
	exp := shield.NewExpander(a.i2c, pos.Address(base))
	return shield.NewController(pos, exp, a.conn, a.log)
}

// openDrivers opens one verification driver per configured channel, in index order.
func (a *app) openDrivers() ([]*verify.Driver, error) {
	chans := append([]config.ChannelConf(nil), a.cfg.Channels...)
	sort.Slice(chans, func(i, j int) bool { return chans[i].Index < chans[j].Index })
	format := a.cfg.SerialFormat()
	opt := verify.DriverOptions{Timing: verify.TimingFrom(a.cfg), Clock: a.clock, Format: &format, Log: a.log}
	out := make([]*verify.Driver, 0, len(chans))
	for _, cc := range chans {
		d, err := verify.OpenDriver(cc, a.hw.Pins, a.hw.Serial, opt)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// simI2C exposes the simulated bus through the platform factory shape.
type simI2C struct{ bus *sim.I2CBus }

func (s simI2C) ByID(string) (drivers.I2C, bool) { return s.bus, true }

func simDecoder(driven uint16) []sim.Route {
	var out []sim.Route
	for _, r := range shield.DecodeRoutes(driven) {
		out = append(out, sim.Route{Channel: int(r.Channel), Target: int(r.Target)})
	}
	return out
}

// parsePositions turns CLI arguments into positions.
func parsePositions(args []string) ([]shield.Position, error) {
	out := make([]shield.Position, 0, len(args))
	for _, s := range args {
		n, err := parseUint(s, "tss")
		if err != nil {
			return nil, err
		}
		p, err := shield.ParsePosition(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
