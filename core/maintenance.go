package core

import (
	"sync"

	"sortctl/bus"
)

// Maintenance holds the global stop-the-world latch under its own lock.
// Trigger is idempotent — a second call while already active is a no-op,
// preserving the original reason. Reset clears both fields. There is no
// auto-recovery: only the operator-driven reset path clears it.
type Maintenance struct {
	mu     sync.Mutex
	active bool
	reason string

	store *StateStore
	conn  *bus.Connection
	log   *Logger
}

// NewMaintenance wires the latch to the state store (so every snapshot
// carries the current flag) and the bus (so every transition is
// observable).
func NewMaintenance(store *StateStore, conn *bus.Connection, log *Logger) *Maintenance {
	return &Maintenance{store: store, conn: conn, log: log}
}

// Active reports whether the latch is currently set.
func (m *Maintenance) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Reason returns the latched reason, empty if not active.
func (m *Maintenance) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Trigger latches maintenance with reason, unless already active.
func (m *Maintenance) Trigger(reason string) {
	m.mu.Lock()
	already := m.active
	if !already {
		m.active = true
		m.reason = reason
	}
	m.mu.Unlock()

	if already {
		return
	}
	m.store.SetMaintenance(true, reason)
	if m.log != nil {
		m.log.Crit().Str("reason", reason).Log("maintenance triggered")
	}
	m.publish(true, reason)
}

// Reset clears the latch.
func (m *Maintenance) Reset() {
	m.mu.Lock()
	m.active = false
	m.reason = ""
	m.mu.Unlock()

	m.store.SetMaintenance(false, "")
	if m.log != nil {
		m.log.Info().Log("maintenance reset")
	}
	m.publish(false, "")
}

func (m *Maintenance) publish(enabled bool, reason string) {
	if m.conn == nil {
		return
	}
	m.conn.Publish(m.conn.NewMessage(bus.T("maintenance", "update"), map[string]any{
		"enabled": enabled,
		"reason":  reason,
	}, true))
}
