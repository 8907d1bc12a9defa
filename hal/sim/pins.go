package sim

import (
	"sync"

	"stackshield-go/hal/halcore"
)

// Pin implements halcore.GPIOPin. When configured as an input it reads the
// attached driver (if any), otherwise its stored level.
type Pin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	pull    halcore.Pull
	drive   func() bool
	forced  *bool
}

func NewPin(n int) *Pin { return &Pin{number: n} }

func (p *Pin) ConfigureInput(pull halcore.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	p.mu.Unlock()
	return nil
}

func (p *Pin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *Pin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

func (p *Pin) Get() bool {
	p.mu.RLock()
	out, lvl, drv, f := p.modeOut, p.level, p.drive, p.forced
	p.mu.RUnlock()
	if f != nil {
		return *f
	}
	if !out && drv != nil {
		return drv()
	}
	return lvl
}

func (p *Pin) Number() int { return p.number }

// IsOutput reports the configured direction.
func (p *Pin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Pull returns the last input pull setting.
func (p *Pin) Pull() halcore.Pull {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pull
}

// Driven returns the level the pin puts on its line: the latch when it is an
// output, low otherwise.
func (p *Pin) Driven() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.forced != nil {
		return *p.forced
	}
	return p.modeOut && p.level
}

// Attach sets the external source read while the pin is an input.
func (p *Pin) Attach(fn func() bool) {
	p.mu.Lock()
	p.drive = fn
	p.mu.Unlock()
}

// Force pins the line at level regardless of direction (stuck-at fault).
func (p *Pin) Force(level bool) {
	p.mu.Lock()
	p.forced = &level
	p.mu.Unlock()
}

// Release clears a Force.
func (p *Pin) Release() {
	p.mu.Lock()
	p.forced = nil
	p.mu.Unlock()
}

// PinFactory returns stable *Pin instances per number.
type PinFactory struct {
	mu   sync.Mutex
	pins map[int]*Pin
}

func NewPinFactory() *PinFactory { return &PinFactory{pins: make(map[int]*Pin)} }

func (f *PinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	return f.Pin(n), true
}

// Pin is ByNumber with the concrete type, for tests.
func (f *PinFactory) Pin(n int) *Pin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*Pin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = NewPin(n)
		f.pins[n] = p
	}
	return p
}
