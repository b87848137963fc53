package core

import (
	"sync"

	"sortctl/config"
)

// LaneStatus is the ephemeral runtime state of one lane.
type LaneStatus string

const (
	StatusReady          LaneStatus = "Ready"
	StatusWaitingForItem LaneStatus = "WaitingForItem"
	StatusWaitingForPush LaneStatus = "WaitingForPush"
	StatusSorting        LaneStatus = "Sorting"
	StatusPassingThrough LaneStatus = "PassingThrough"
)

// LaneRuntime fuses a lane's persisted config with its ephemeral runtime
// fields, the shape the state store and broadcaster hand out.
type LaneRuntime struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	SensorPin     int        `json:"sensor_pin"`
	PushPin       *int       `json:"push_pin"`
	PullPin       *int       `json:"pull_pin"`
	Status        LaneStatus `json:"status"`
	Count         int        `json:"count"`
	SensorReading int        `json:"sensor_reading"` // 0=active/low, 1=inactive/high
	RelayPush     int        `json:"relay_push"`
	RelayGrab     int        `json:"relay_grab"`
}

func (l LaneRuntime) IsSorting() bool { return l.PushPin != nil && l.PullPin != nil }

// Snapshot is the deep-copied, read-only view handed to callers of
// StateStore.Snapshot and serialized for broadcast.
type Snapshot struct {
	Lanes          []LaneRuntime       `json:"lanes"`
	TimingConfig   config.TimingConfig `json:"timing_config"`
	GateReading    int                 `json:"gate_reading"`
	TokenCount     int                 `json:"token_count"`
	QueueIndices   []int               `json:"queue_indices"`
	Maintenance    bool                `json:"maintenance_mode"`
	LastError      string              `json:"last_error"`
	IsMock         bool                `json:"is_mock"`
	AuthEnabled    bool                `json:"auth_enabled"`
	AutoTestActive bool                `json:"auto_test_active"`
}

// StateStore is the single-mutex in-memory snapshot of lane configs,
// per-lane runtime, timing parameters, and the maintenance flag. All
// reads return a deep copy made under the lock; all mutations acquire
// the lock, apply, then release — never held across I/O.
type StateStore struct {
	mu sync.Mutex

	lanes          []LaneRuntime
	timing         config.TimingConfig
	gateReading    int
	tokenCount     int
	queueIndices   []int
	maintenance    bool
	lastError      string
	isMock         bool
	authEnabled    bool
	autoTestActive bool
}

// NewStateStore builds a store from a loaded config document.
func NewStateStore(lanes []config.LaneConfig, timing config.TimingConfig, isMock, authEnabled bool) *StateStore {
	s := &StateStore{
		timing:      timing,
		gateReading: 1,
		isMock:      isMock,
		authEnabled: authEnabled,
	}
	s.lanes = runtimeFromConfig(lanes, nil)
	return s
}

func runtimeFromConfig(lanes []config.LaneConfig, prior []LaneRuntime) []LaneRuntime {
	countByName := map[string]int{}
	for _, p := range prior {
		countByName[p.Name] = p.Count
	}
	out := make([]LaneRuntime, len(lanes))
	for i, l := range lanes {
		out[i] = LaneRuntime{
			ID:            l.ID,
			Name:          l.Name,
			SensorPin:     l.SensorPin,
			PushPin:       l.PushPin,
			PullPin:       l.PullPin,
			Status:        StatusReady,
			SensorReading: 1,
			Count:         countByName[l.Name],
		}
	}
	return out
}

// SetLanesConfig recreates the lane list from a new config, preserving
// each lane's counter by matching on name.
func (s *StateStore) SetLanesConfig(lanes []config.LaneConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes = runtimeFromConfig(lanes, s.lanes)
}

// SetTiming replaces the timing config.
func (s *StateStore) SetTiming(t config.TimingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing = t
}

// Timing returns a copy of the current timing config.
func (s *StateStore) Timing() config.TimingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timing
}

// LaneCount returns the number of configured lanes (N in spec terms).
func (s *StateStore) LaneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Lane returns a copy of one lane's runtime by index.
func (s *StateStore) Lane(index int) (LaneRuntime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.lanes) {
		return LaneRuntime{}, false
	}
	return s.lanes[index], true
}

// LanesConfig returns the current lane set projected back to config.LaneConfig.
func (s *StateStore) LanesConfig() []config.LaneConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.LaneConfig, len(s.lanes))
	for i, l := range s.lanes {
		out[i] = config.LaneConfig{ID: l.ID, Name: l.Name, SensorPin: l.SensorPin, PushPin: l.PushPin, PullPin: l.PullPin}
	}
	return out
}

// UpdateLane applies a partial merge to one lane's runtime under the lock.
func (s *StateStore) UpdateLane(index int, fn func(*LaneRuntime)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.lanes) {
		return false
	}
	fn(&s.lanes[index])
	return true
}

// IncrementCount bumps a lane's counter by one, used only from the sort
// executor's success branch.
func (s *StateStore) IncrementCount(index int) (newCount int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.lanes) {
		return 0, false
	}
	s.lanes[index].Count++
	return s.lanes[index].Count, true
}

// ResetCounter zeroes one lane's counter, or every lane's if index < 0.
func (s *StateStore) ResetCounter(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		for i := range s.lanes {
			s.lanes[i].Count = 0
		}
		return true
	}
	if index >= len(s.lanes) {
		return false
	}
	s.lanes[index].Count = 0
	return true
}

// CountsByName returns a snapshot of every lane's count keyed by name,
// for the sort-log autosave.
func (s *StateStore) CountsByName() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.lanes))
	for _, l := range s.lanes {
		out[l.Name] = l.Count
	}
	return out
}

func (s *StateStore) SetGateReading(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateReading = level
}

func (s *StateStore) SetTokenCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCount = n
}

// SetQueueIndices is called by QRQueue under queue-lock-then-state-lock
// order; it is the only nested-lock acquisition in the system.
func (s *StateStore) SetQueueIndices(idx []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueIndices = append([]int(nil), idx...)
}

func (s *StateStore) SetMaintenance(active bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = active
	s.lastError = reason
}

func (s *StateStore) SetAutoTestActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoTestActive = active
}

func (s *StateStore) AutoTestActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoTestActive
}

// Snapshot returns a deep copy of the full state, suitable for
// serialization and for the control plane's GET responses.
func (s *StateStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Lanes:          append([]LaneRuntime(nil), s.lanes...),
		TimingConfig:   s.timing,
		GateReading:    s.gateReading,
		TokenCount:     s.tokenCount,
		QueueIndices:   append([]int(nil), s.queueIndices...),
		Maintenance:    s.maintenance,
		LastError:      s.lastError,
		IsMock:         s.isMock,
		AuthEnabled:    s.authEnabled,
		AutoTestActive: s.autoTestActive,
	}
}
