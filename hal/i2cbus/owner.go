// Package i2cbus serialises every transaction on one physical I²C bus behind
// a single worker goroutine. Devices at different addresses each get their own
// handle, but at most one transaction is on the wire at any time.
package i2cbus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stackshield-go/errcode"

	"tinygo.org/x/drivers"
)

// DefaultTimeout bounds queueing and completion of one transaction.
const DefaultTimeout = 250 * time.Millisecond

var errClosed = errors.New("i2c owner closed")

// request states; the worker only starts a pending request
const (
	reqPending int32 = iota
	reqRunning
	reqAbandoned
)

// request posted to the per-bus worker
type i2cReq struct {
	addr  uint16
	w, r  []byte
	state *atomic.Int32
	done  chan error // buffered(1); worker replies best-effort
}

// Owner hosts the worker for one bus.
type Owner struct {
	id   string
	hw   drivers.I2C
	reqs chan i2cReq
	quit chan struct{}
	once sync.Once
}

// New starts the worker for hw. queue <= 0 selects 16.
func New(id string, hw drivers.I2C, queue int) *Owner {
	if queue <= 0 {
		queue = 16
	}
	o := &Owner{
		id:   id,
		hw:   hw,
		reqs: make(chan i2cReq, queue),
		quit: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *Owner) ID() string { return o.id }

func (o *Owner) loop() {
	for {
		select {
		case req := <-o.reqs:
			if !req.state.CompareAndSwap(reqPending, reqRunning) {
				continue
			}
			err := o.hw.Tx(req.addr, req.w, req.r)
			// best-effort reply; do not block the worker
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

// Close stops the worker. Pending and later transactions fail with bus_error.
func (o *Owner) Close() {
	o.once.Do(func() { close(o.quit) })
}

// Handle returns a drivers.I2C bound to this owner. timeout <= 0 selects
// DefaultTimeout; there is no unbounded mode.
func (o *Owner) Handle(timeout time.Duration) drivers.I2C {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &handle{o: o, timeout: timeout}
}

// handle adapts the owner to tinygo.org/x/drivers.I2C.
type handle struct {
	o       *Owner
	timeout time.Duration
}

// Ensure compile-time conformance with drivers.I2C
var _ drivers.I2C = (*handle)(nil)

// Tx posts one transaction and waits for it. The worker reads into a private
// buffer, so a caller that timed out never sees its buffer written later. A
// request still queued when its caller gives up is dropped, never sent.
func (h *handle) Tx(addr uint16, w, r []byte) error {
	req := i2cReq{
		addr:  addr,
		w:     append([]byte(nil), w...),
		state: new(atomic.Int32),
		done:  make(chan error, 1),
	}
	if len(r) > 0 {
		req.r = make([]byte, len(r))
	}

	t := time.NewTimer(h.timeout)
	defer t.Stop()

	select {
	case h.o.reqs <- req:
	case <-h.o.quit:
		return h.fail(addr, errClosed)
	case <-t.C:
		return h.fail(addr, errcode.Busy)
	}

	select {
	case err := <-req.done:
		if err != nil {
			return h.fail(addr, err)
		}
		copy(r, req.r)
		return nil
	case <-h.o.quit:
		req.state.CompareAndSwap(reqPending, reqAbandoned)
		return h.fail(addr, errClosed)
	case <-t.C:
		req.state.CompareAndSwap(reqPending, reqAbandoned)
		return h.fail(addr, errcode.Timeout)
	}
}

func (h *handle) fail(addr uint16, err error) error {
	return &errcode.E{
		C:   errcode.BusError,
		Op:  "i2c." + h.o.id,
		Msg: fmt.Sprintf("addr 0x%02x", addr),
		Err: err,
	}
}
