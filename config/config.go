// Package config holds the persisted configuration schema for the sort
// controller — lane wiring and timing parameters — plus atomic JSON
// load/save against a config file and a daily sort-log file.
package config

import (
	"fmt"
	"time"
)

// LaneConfig describes one physical lane: its sensor pin and, for a
// sorting lane, its push/pull piston pins. A lane with both PushPin and
// PullPin nil is a pass-through lane; both present makes it a sorting
// lane. Exactly one of the two present is invalid.
type LaneConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SensorPin int    `json:"sensor_pin"`
	PushPin   *int   `json:"push_pin"`
	PullPin   *int   `json:"pull_pin"`
}

// IsSorting reports whether the lane has both piston pins configured.
func (l LaneConfig) IsSorting() bool {
	return l.PushPin != nil && l.PullPin != nil
}

// IsPassThrough reports whether the lane has neither piston pin configured.
func (l LaneConfig) IsPassThrough() bool {
	return l.PushPin == nil && l.PullPin == nil
}

// Validate rejects a mixed lane (only one of push/pull set).
func (l LaneConfig) Validate() error {
	if (l.PushPin == nil) != (l.PullPin == nil) {
		return fmt.Errorf("lane %q: push_pin and pull_pin must both be set or both be absent", l.ID)
	}
	return nil
}

// TimingConfig carries every timing parameter in seconds, matching the
// persisted JSON shape, with Duration accessors for use by core.
type TimingConfig struct {
	CycleDelay            float64 `json:"cycle_delay"`
	SettleDelay           float64 `json:"settle_delay"`
	SensorDebounce        float64 `json:"sensor_debounce"`
	PushDelay             float64 `json:"push_delay"`
	GPIOMode              string  `json:"gpio_mode"`
	QueueHeadTimeout      float64 `json:"queue_head_timeout"`
	PendingTriggerTimeout float64 `json:"pending_trigger_timeout"`
}

func (t TimingConfig) CycleDelayD() time.Duration       { return secs(t.CycleDelay) }
func (t TimingConfig) SettleDelayD() time.Duration      { return secs(t.SettleDelay) }
func (t TimingConfig) SensorDebounceD() time.Duration   { return secs(t.SensorDebounce) }
func (t TimingConfig) PushDelayD() time.Duration        { return secs(t.PushDelay) }
func (t TimingConfig) QueueHeadTimeoutD() time.Duration { return secs(t.QueueHeadTimeout) }

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// DefaultLanes mirrors the factory wiring: three sorting lanes and one
// pass-through exit lane.
func DefaultLanes() []LaneConfig {
	p := func(n int) *int { return &n }
	return []LaneConfig{
		{ID: "A", Name: "Lane A", SensorPin: 3, PushPin: p(17), PullPin: p(27)},
		{ID: "B", Name: "Lane B", SensorPin: 23, PushPin: p(22), PullPin: p(14)},
		{ID: "C", Name: "Lane C", SensorPin: 24, PushPin: p(4), PullPin: p(25)},
		{ID: "D", Name: "Lane D (pass-through)", SensorPin: 5, PushPin: nil, PullPin: nil},
	}
}

// DefaultTiming mirrors the factory timing defaults.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		CycleDelay:            0.3,
		SettleDelay:           0.2,
		SensorDebounce:        0.1,
		PushDelay:             0.0,
		GPIOMode:              "BCM",
		QueueHeadTimeout:      15.0,
		PendingTriggerTimeout: 0.5, // unused by the Gated-FIFO core, accepted and ignored
	}
}

// DefaultEntryPin is the dedicated gate-sensor pin, not part of any lane.
const DefaultEntryPin = 26

// defaultLaneIDs mirrors the auto-assignment order used when a lane in a
// loaded config omits its id.
var defaultLaneIDs = []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}

// EnsureLaneIDs assigns a stable id to any lane missing one: the letter at
// the lane's position in A..J, falling back to LANE_<n> (n = position+1)
// past J. Ids already present are not consulted, so an assigned id can
// repeat one set explicitly on another lane.
func EnsureLaneIDs(lanes []LaneConfig) []LaneConfig {
	for i := range lanes {
		if lanes[i].ID != "" {
			continue
		}
		if i < len(defaultLaneIDs) {
			lanes[i].ID = defaultLaneIDs[i]
		} else {
			lanes[i].ID = fmt.Sprintf("LANE_%d", i+1)
		}
	}
	return lanes
}

// Document is the exact persisted shape of config.json.
type Document struct {
	TimingConfig TimingConfig `json:"timing_config"`
	LanesConfig  []LaneConfig `json:"lanes_config"`
}

// Merge applies file-loaded fields over the defaults: timing fields merge
// key-by-key (a zero-value field in the file keeps the default), lanes
// replace wholesale when present in the file.
func Merge(base Document, loaded Document, lanesPresent bool) Document {
	out := base
	out.TimingConfig = mergeTiming(base.TimingConfig, loaded.TimingConfig)
	if lanesPresent {
		out.LanesConfig = EnsureLaneIDs(loaded.LanesConfig)
	} else {
		out.LanesConfig = EnsureLaneIDs(base.LanesConfig)
	}
	return out
}

func mergeTiming(base, loaded TimingConfig) TimingConfig {
	out := base
	if loaded.CycleDelay != 0 {
		out.CycleDelay = loaded.CycleDelay
	}
	if loaded.SettleDelay != 0 {
		out.SettleDelay = loaded.SettleDelay
	}
	if loaded.SensorDebounce != 0 {
		out.SensorDebounce = loaded.SensorDebounce
	}
	if loaded.PushDelay != 0 {
		out.PushDelay = loaded.PushDelay
	}
	if loaded.GPIOMode != "" {
		out.GPIOMode = loaded.GPIOMode
	}
	if loaded.QueueHeadTimeout != 0 {
		out.QueueHeadTimeout = loaded.QueueHeadTimeout
	}
	if loaded.PendingTriggerTimeout != 0 {
		out.PendingTriggerTimeout = loaded.PendingTriggerTimeout
	}
	return out
}
