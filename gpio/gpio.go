// Package gpio abstracts pin I/O behind a narrow provider interface, with
// a real binding over periph.io and an in-memory mock for tests and for
// hosts with no usable GPIO chip.
package gpio

import "sync"

// Level is a pin's logical level. Sensors are pulled up; active state is
// Low.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Mode selects the platform pin-numbering scheme. A change requires a
// full restart (config.TimingConfig.GPIOMode).
type Mode int

const (
	BCM Mode = iota
	BOARD
)

// ActiveLow is a compile-time constant: relay-on writes Low.
const ActiveLow = true

// Provider is the capability set every GPIO backend must implement.
// Pin read failures are fatal per the error-handling policy; callers
// treat a non-nil error from Read or Write as grounds to trigger
// maintenance.
type Provider interface {
	SetMode(mode Mode) error
	ConfigureInput(pin int, pullUp bool) error
	ConfigureOutput(pin int) error
	Write(pin int, level Level) error
	Read(pin int) (Level, error)
	Cleanup() error
	IsMock() bool
}

// RelayOn drives pin to its active-low "on" level (grab engaged / push
// engaged, depending on which relay pin is passed). A nil pin is a no-op,
// matching the pass-through-lane convention of absent piston pins.
func RelayOn(p Provider, pin *int) error {
	if pin == nil {
		return nil
	}
	if ActiveLow {
		return p.Write(*pin, Low)
	}
	return p.Write(*pin, High)
}

// RelayOff drives pin to its active-low "off" level.
func RelayOff(p Provider, pin *int) error {
	if pin == nil {
		return nil
	}
	if ActiveLow {
		return p.Write(*pin, High)
	}
	return p.Write(*pin, Low)
}

// ReadSensor reads pin from the provider. Callers that receive a non-nil error must treat the sensor as inactive and
// escalate to maintenance; this function does not itself mask the error.
func ReadSensor(p Provider, pin int) (Level, error) {
	return p.Read(pin)
}

// LaneLike is the minimal shape gpio needs from a lane to compute its
// active pin set and safe baseline, kept separate from config.LaneConfig
// so this package has no dependency on config.
type LaneLike struct {
	SensorPin int
	PushPin   *int
	PullPin   *int
}

// ActivePins returns the deduplicated sensor and relay pin sets across
// lanes plus the dedicated entry-gate sensor pin.
func ActivePins(lanes []LaneLike, entryPin int) (sensors []int, relays []int) {
	sensorSet := map[int]struct{}{entryPin: {}}
	relaySet := map[int]struct{}{}
	for _, l := range lanes {
		sensorSet[l.SensorPin] = struct{}{}
		if l.PushPin != nil {
			relaySet[*l.PushPin] = struct{}{}
		}
		if l.PullPin != nil {
			relaySet[*l.PullPin] = struct{}{}
		}
	}
	for p := range sensorSet {
		sensors = append(sensors, p)
	}
	for p := range relaySet {
		relays = append(relays, p)
	}
	return sensors, relays
}

// SetupPins puts every GPIO chip into its starting configuration: sets
// the pin-numbering mode, configures every sensor pin as a pulled-up
// input and every relay pin as an output, then restores the safe
// baseline. Any failure aborts startup (GPIO setup conflict, per the
// error table) — the caller is expected to trigger maintenance and
// propagate the error.
func SetupPins(p Provider, mode Mode, lanes []LaneLike, entryPin int) error {
	if err := p.SetMode(mode); err != nil {
		return err
	}
	sensors, relays := ActivePins(lanes, entryPin)
	for _, pin := range sensors {
		if err := p.ConfigureInput(pin, true); err != nil {
			return err
		}
	}
	for _, pin := range relays {
		if err := p.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	return ResetAllRelays(p, lanes)
}

// ResetAllRelays restores the safe baseline on every lane: pull engaged
// (grab on), push retracted. It is called at startup, on the
// operator-driven maintenance reset, and when auto-test mode is switched
// off — never automatically after a mid-cycle fault.
func ResetAllRelays(p Provider, lanes []LaneLike) error {
	for _, l := range lanes {
		if err := RelayOn(p, l.PullPin); err != nil {
			return err
		}
		if err := RelayOff(p, l.PushPin); err != nil {
			return err
		}
	}
	return nil
}

// Mock is an in-memory Provider backed by a pin->level map, with support
// for external override via SetInputState (the control plane's
// mock-sensor-injection endpoint).
type Mock struct {
	mu     sync.Mutex
	levels map[int]Level
	inputs map[int]bool
}

// NewMock returns an empty Mock; every unread pin defaults to High.
func NewMock() *Mock {
	return &Mock{levels: map[int]Level{}, inputs: map[int]bool{}}
}

func (m *Mock) SetMode(Mode) error { return nil }

func (m *Mock) ConfigureInput(pin int, pullUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[pin] = true
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = High
	}
	return nil
}

func (m *Mock) ConfigureOutput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = Low
	}
	return nil
}

func (m *Mock) Write(pin int, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	return nil
}

func (m *Mock) Read(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, ok := m.levels[pin]
	if !ok {
		return High, nil
	}
	return lvl, nil
}

func (m *Mock) Cleanup() error { return nil }

func (m *Mock) IsMock() bool { return true }

// SetInputState sets pin's logical state: active (true) maps to Low,
// inactive (false) maps to High — used by the /api/mock_gpio endpoint.
func (m *Mock) SetInputState(pin int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.levels[pin] = Low
	} else {
		m.levels[pin] = High
	}
}
