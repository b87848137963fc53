package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Real binds Provider to periph.io's host-detected GPIO registry. BCM/BOARD
// numbering is periph's own pin-name resolution (e.g. "GPIO17"); pin
// names are resolved lazily on first configure/read/write so SetMode can
// run before any pin is named.
type Real struct {
	mu   sync.Mutex
	mode Mode
	pins map[int]gpio.PinIO
}

// Open initializes the periph.io host drivers and returns a Real
// provider. If host init fails (no usable GPIO chip on this platform —
// the common case off a Raspberry Pi), it falls back to Mock, mirroring
// gpio_handler.py's ImportError fallback to MockGPIO.
func Open() (Provider, error) {
	if _, err := host.Init(); err != nil {
		return NewMock(), nil
	}
	return &Real{pins: map[int]gpio.PinIO{}}, nil
}

func (r *Real) SetMode(mode Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return nil
}

func (r *Real) pinName(n int) string {
	if r.mode == BOARD {
		return fmt.Sprintf("P1_%d", n)
	}
	return fmt.Sprintf("GPIO%d", n)
}

func (r *Real) resolve(n int) (gpio.PinIO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[n]; ok {
		return p, nil
	}
	p := gpioreg.ByName(r.pinName(n))
	if p == nil {
		return nil, fmt.Errorf("gpio: unknown pin %d", n)
	}
	r.pins[n] = p
	return p, nil
}

func (r *Real) ConfigureInput(pin int, pullUp bool) error {
	p, err := r.resolve(pin)
	if err != nil {
		return err
	}
	pull := gpio.Float
	if pullUp {
		pull = gpio.PullUp
	}
	return p.In(pull, gpio.NoEdge)
}

func (r *Real) ConfigureOutput(pin int) error {
	p, err := r.resolve(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Low)
}

func (r *Real) Write(pin int, level Level) error {
	p, err := r.resolve(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level == High))
}

func (r *Real) Read(pin int) (Level, error) {
	p, err := r.resolve(pin)
	if err != nil {
		return High, err
	}
	if p.Read() {
		return High, nil
	}
	return Low, nil
}

func (r *Real) Cleanup() error { return nil }

func (r *Real) IsMock() bool { return false }
