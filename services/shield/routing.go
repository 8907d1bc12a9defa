package shield

import (
	"fmt"
	"sync"

	"stackshield-go/bus"
	"stackshield-go/errcode"
	"stackshield-go/logger"
	"stackshield-go/types"
	"stackshield-go/x/timex"
)

// Slot is the route held by one channel line: empty, or occupied by a target.
type Slot struct {
	target Target
	used   bool
	probe  bool
}

// Target returns the occupying target, if any.
func (s Slot) Target() (Target, bool) { return s.target, s.used }

// ViaProbe reports whether the route was made with probe numbering.
func (s Slot) ViaProbe() bool { return s.probe }

// Status is a hardware snapshot of one position.
type Status struct {
	Position Position `json:"tss" yaml:"tss"`
	Address  uint16   `json:"address" yaml:"address"`
	Present  bool     `json:"daughterboard" yaml:"daughterboard"`
	Outputs  uint16   `json:"outputs" yaml:"outputs"`
	Routes   []Route  `json:"routes" yaml:"routes"` // tracked by the controller
	Wired    []Route  `json:"wired" yaml:"wired"`   // decoded from the output latch
}

// Controller routes channels to targets on one board position.
//
// Each channel line has one Slot. A connect that would disturb another
// route (a different target on the same line, the same target on another
// line, or any extra path through the matrix) is refused with RouteBusy and
// no pin is written. Nothing is retried.
type Controller struct {
	mu    sync.Mutex
	pos   Position
	exp   *Expander
	conn  *bus.Connection
	log   *logger.Log
	ready bool
	slots [Channels]Slot
}

// NewController binds pos to its expander. conn and log may be nil.
func NewController(pos Position, exp *Expander, conn *bus.Connection, log *logger.Log) *Controller {
	return &Controller{
		pos:  pos,
		exp:  exp,
		conn: conn,
		log:  logger.OrDiscard(log).With(logger.Fields{"module": "shield", "tss": int(pos)}),
	}
}

func (c *Controller) Position() Position { return c.pos }

func (c *Controller) errf(code errcode.Code, op, format string, a ...any) error {
	return errcode.New(code, "shield."+op, fmt.Sprintf("tss %d: ", c.pos)+fmt.Sprintf(format, a...))
}

func (c *Controller) requireInit(op string) error {
	if !c.ready {
		return c.errf(errcode.NotInitialised, op, "init_pins has not run")
	}
	return nil
}

// InitPins sets switch pins to low outputs and the rest to inputs. It may
// be repeated; the crossbar is open afterwards.
func (c *Controller) InitPins() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exp.Configure(inputPins, 0); err != nil {
		return err
	}
	c.ready = true
	c.slots = [Channels]Slot{}
	c.log.Debug("pins initialised")
	return nil
}

// Resume adopts an expander configured by an earlier process and rebuilds
// the slots from its output latch.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir, err := c.exp.Direction()
	if err != nil {
		return err
	}
	if dir != inputPins {
		return c.errf(errcode.NotInitialised, "resume", "direction %#04x", dir)
	}
	out, err := c.exp.Outputs()
	if err != nil {
		return err
	}
	c.slots = [Channels]Slot{}
	for _, r := range DecodeRoutes(out & switchPins) {
		if c.slots[r.Channel].used {
			c.log.Warnf("channel %d wired to several targets", r.Channel)
			continue
		}
		c.slots[r.Channel] = Slot{target: r.Target, used: true}
	}
	c.ready = true
	return nil
}

// DisconnectAll opens every switch.
func (c *Controller) DisconnectAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInit("disconnect_all"); err != nil {
		return err
	}
	if err := c.exp.WritePins(switchPins, 0); err != nil {
		return err
	}
	c.slots = [Channels]Slot{}
	c.log.Info("disconnected all")
	c.publish(types.RouteDisconnectAll, -1, -1, false)
	return nil
}

// Disconnect clears channel ch. The target switch stays closed while
// another line still routes to it.
func (c *Controller) Disconnect(ch Channel) error {
	if !ch.Valid() {
		return outOfRange("shield.disconnect", "channel", int(ch), Channels)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect(ch, false)
}

// DisconnectProbe clears the line probe p shares.
func (c *Controller) DisconnectProbe(p Probe) error {
	if !p.Valid() {
		return outOfRange("shield.disconnect", "probe", int(p), Probes)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect(p.Line(), true)
}

func (c *Controller) disconnect(ch Channel, probe bool) error {
	if err := c.requireInit("disconnect"); err != nil {
		return err
	}
	s := c.slots[ch]
	if !s.used {
		return nil
	}
	mask := uint16(1) << uint(ch.Pin())
	if !c.targetHeldElsewhere(s.target, ch) {
		mask |= 1 << uint(s.target.Pin())
	}
	if err := c.exp.WritePins(mask, 0); err != nil {
		return err
	}
	c.slots[ch] = Slot{}
	c.log.Infof("disconnected channel %d from target %d", ch, s.target)
	c.publish(types.RouteDisconnect, int(ch), int(s.target), probe)
	return nil
}

func (c *Controller) targetHeldElsewhere(t Target, except Channel) bool {
	for ch, s := range c.slots {
		if Channel(ch) != except && s.used && s.target == t {
			return true
		}
	}
	return false
}

// DaughterboardIsConnected reads the presence pin.
func (c *Controller) DaughterboardIsConnected() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInit("presence"); err != nil {
		return false, err
	}
	return c.exp.ReadPin(PresencePin)
}

// ConnectTestChannelToTarget closes the (channel, target) switch pair.
func (c *Controller) ConnectTestChannelToTarget(ch Channel, t Target) error {
	if !ch.Valid() {
		return outOfRange("shield.connect", "channel", int(ch), Channels)
	}
	if !t.Valid() {
		return outOfRange("shield.connect", "target", int(t), Targets)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ch, t, 1<<uint(ch.Pin()), false)
}

// ConnectProbeToTarget closes the (probe, target) switch pair. The route
// occupies the slot of the channel line the probe shares.
func (c *Controller) ConnectProbeToTarget(p Probe, t Target) error {
	if !p.Valid() {
		return outOfRange("shield.connect", "probe", int(p), Probes)
	}
	if !t.Valid() {
		return outOfRange("shield.connect", "target", int(t), Targets)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(p.Line(), t, 1<<uint(p.Pin()), true)
}

func (c *Controller) connect(line Channel, t Target, lineMask uint16, probe bool) error {
	if err := c.requireInit("connect"); err != nil {
		return err
	}
	present, err := c.exp.ReadPin(PresencePin)
	if err != nil {
		return err
	}
	if !present {
		return c.errf(errcode.NoDaughterboard, "connect", "no daughterboard seated")
	}

	if s := c.slots[line]; s.used {
		if s.target == t {
			return nil
		}
		return c.errf(errcode.RouteBusy, "connect", "channel %d holds target %d", line, s.target)
	}
	if c.targetHeldElsewhere(t, line) {
		return c.errf(errcode.RouteBusy, "connect", "target %d is routed to another channel", t)
	}
	held := c.heldMask()
	mask := lineMask | 1<<uint(t.Pin())
	if n := len(DecodeRoutes(held | mask)); n != c.routeCount()+1 {
		return c.errf(errcode.RouteBusy, "connect", "channel %d to target %d would open %d extra paths",
			line, t, n-c.routeCount()-1)
	}

	if err := c.exp.WritePins(mask, mask); err != nil {
		return err
	}
	c.slots[line] = Slot{target: t, used: true, probe: probe}
	c.log.Infof("connected channel %d to target %d", line, t)
	c.publish(types.RouteConnect, int(line), int(t), probe)
	return nil
}

func (c *Controller) heldMask() uint16 {
	var m uint16
	for ch, s := range c.slots {
		if s.used {
			m |= Route{Channel: Channel(ch), Target: s.target}.mask()
		}
	}
	return m
}

func (c *Controller) routeCount() int {
	n := 0
	for _, s := range c.slots {
		if s.used {
			n++
		}
	}
	return n
}

// Slots returns a copy of the connection state.
func (c *Controller) Slots() [Channels]Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots
}

// Routes lists held routes in channel order.
func (c *Controller) Routes() []Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Route
	for ch, s := range c.slots {
		if s.used {
			out = append(out, Route{Channel: Channel(ch), Target: s.target})
		}
	}
	return out
}

// Status reads presence and the output latch.
func (c *Controller) Status() (Status, error) {
	routes := c.Routes()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Position: c.pos, Address: c.exp.Address(), Routes: routes}
	if err := c.requireInit("status"); err != nil {
		return st, err
	}
	present, err := c.exp.ReadPin(PresencePin)
	if err != nil {
		return st, err
	}
	out, err := c.exp.Outputs()
	if err != nil {
		return st, err
	}
	st.Present = present
	st.Outputs = out
	st.Wired = DecodeRoutes(out & switchPins)
	return st, nil
}

func (c *Controller) publish(action types.RouteAction, ch, t int, probe bool) {
	if c.conn == nil {
		return
	}
	ev := types.RouteEvent{
		Position: int(c.pos),
		Action:   action,
		Channel:  ch,
		Target:   t,
		Probe:    probe,
		TS:       timex.NowMs(),
	}
	c.conn.Publish(c.conn.NewMessage(bus.T("tss", int(c.pos), "route"), ev, false))
}
