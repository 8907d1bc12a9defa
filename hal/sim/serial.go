package sim

import (
	"context"
	"sync"

	"stackshield-go/hal/halcore"
)

// Port is an in-memory serial endpoint. Bytes written go to sink; bytes
// injected are returned by RecvSomeContext.
type Port struct {
	mu   sync.Mutex
	rx   []byte
	rd   chan struct{}
	sink func([]byte)
	tx   int
	fmt  Format
}

// Format is the line format last applied through halcore.SerialFormatter.
type Format struct {
	Baud               uint32
	DataBits, StopBits uint8
	Parity             string
}

func NewPort(sink func([]byte)) *Port {
	return &Port{rd: make(chan struct{}, 1), sink: sink}
}

// Pipe returns two ports wired back to back.
func Pipe() (a, b *Port) {
	a = NewPort(nil)
	b = NewPort(nil)
	a.sink = b.Inject
	b.sink = a.Inject
	return a, b
}

func (p *Port) Inject(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	p.rx = append(p.rx, b...)
	if len(p.rd) == 0 {
		p.rd <- struct{}{}
	}
	p.mu.Unlock()
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.tx += len(b)
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(append([]byte(nil), b...))
	}
	return len(b), nil
}

func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

// Written is the number of bytes written so far.
func (p *Port) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx
}

func (p *Port) read(b []byte) int {
	p.mu.Lock()
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	p.mu.Unlock()
	return n
}

func (p *Port) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	for {
		if n := p.read(b); n > 0 {
			return n, nil
		}
		select {
		case <-p.rd:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// SerialFactory maps ids to ports.
type SerialFactory struct {
	mu    sync.Mutex
	ports map[string]*Port
}

func (f *SerialFactory) Add(id string, p *Port) {
	f.mu.Lock()
	if f.ports == nil {
		f.ports = make(map[string]*Port)
	}
	f.ports[id] = p
	f.mu.Unlock()
}

func (f *SerialFactory) ByID(id string) (halcore.SerialPort, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ports[id]
	if !ok {
		return nil, false
	}
	return p, true
}

// ResetInputBuffer discards unread bytes.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	p.rx = nil
	select {
	case <-p.rd:
	default:
	}
	p.mu.Unlock()
	return nil
}

func (p *Port) SetBaudRate(br uint32) error {
	p.mu.Lock()
	p.fmt.Baud = br
	p.mu.Unlock()
	return nil
}

func (p *Port) SetFormat(databits, stopbits uint8, parity string) error {
	p.mu.Lock()
	p.fmt.DataBits, p.fmt.StopBits, p.fmt.Parity = databits, stopbits, parity
	p.mu.Unlock()
	return nil
}

// Format returns the applied line format.
func (p *Port) Format() Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fmt
}
