package gpio

import "testing"

func TestRelayOnOffAreActiveLow(t *testing.T) {
	m := NewMock()
	pin := 17
	if err := RelayOn(m, &pin); err != nil {
		t.Fatal(err)
	}
	lvl, _ := m.Read(pin)
	if lvl != Low {
		t.Fatalf("relay on should write Low (active-low), got %v", lvl)
	}
	if err := RelayOff(m, &pin); err != nil {
		t.Fatal(err)
	}
	lvl, _ = m.Read(pin)
	if lvl != High {
		t.Fatalf("relay off should write High (active-low), got %v", lvl)
	}
}

func TestRelayNilPinIsNoop(t *testing.T) {
	m := NewMock()
	if err := RelayOn(m, nil); err != nil {
		t.Fatal(err)
	}
	if err := RelayOff(m, nil); err != nil {
		t.Fatal(err)
	}
}

func TestReadSensorDefaultsHighWhenUnset(t *testing.T) {
	m := NewMock()
	lvl, err := ReadSensor(m, 99)
	if err != nil {
		t.Fatal(err)
	}
	if lvl != High {
		t.Fatalf("unset pin should read High (inactive), got %v", lvl)
	}
}

func TestResetAllRelaysAppliesSafeBaseline(t *testing.T) {
	m := NewMock()
	push, pull := 17, 27
	lanes := []LaneLike{{SensorPin: 3, PushPin: &push, PullPin: &pull}}
	if err := ResetAllRelays(m, lanes); err != nil {
		t.Fatal(err)
	}
	pullLvl, _ := m.Read(pull)
	pushLvl, _ := m.Read(push)
	if pullLvl != Low {
		t.Fatalf("pull pin should be engaged (Low), got %v", pullLvl)
	}
	if pushLvl != High {
		t.Fatalf("push pin should be retracted (High), got %v", pushLvl)
	}
}

func TestActivePinsIncludesEntryAndDedupes(t *testing.T) {
	push, pull := 17, 27
	lanes := []LaneLike{
		{SensorPin: 3, PushPin: &push, PullPin: &pull},
		{SensorPin: 5}, // pass-through
		// repeats the first lane's pins
		{SensorPin: 3, PushPin: &push, PullPin: &pull},
	}
	sensors, relays := ActivePins(lanes, 6)
	if len(sensors) != 3 {
		t.Fatalf("expected 3 sensor pins (3, 5, entry 6), got %v", sensors)
	}
	if len(relays) != 2 {
		t.Fatalf("expected 2 relay pins, got %v", relays)
	}
}

func TestSetInputStateMapsLogicalToLevel(t *testing.T) {
	m := NewMock()
	m.SetInputState(3, true)
	lvl, _ := m.Read(3)
	if lvl != Low {
		t.Fatalf("active=true should set Low, got %v", lvl)
	}
	m.SetInputState(3, false)
	lvl, _ = m.Read(3)
	if lvl != High {
		t.Fatalf("active=false should set High, got %v", lvl)
	}
}

func TestSetupPinsConfiguresAndResetsBaseline(t *testing.T) {
	m := NewMock()
	push, pull := 17, 27
	lanes := []LaneLike{{SensorPin: 3, PushPin: &push, PullPin: &pull}}
	if err := SetupPins(m, BCM, lanes, 6); err != nil {
		t.Fatal(err)
	}
	pullLvl, _ := m.Read(pull)
	if pullLvl != Low {
		t.Fatalf("setup should leave safe baseline, pull=%v", pullLvl)
	}
}
