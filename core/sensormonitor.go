package core

import (
	"context"
	"time"

	"sortctl/gpio"
)

const monitorPollInterval = 5 * time.Millisecond

// edgeSlot tracks debounce state for one polled input (a lane sensor or
// the gate sensor), private to the monitor — never shared via the state
// store.
type edgeSlot struct {
	lastAccepted time.Time
	initialized  bool
}

// acceptFalling reports whether level is a debounced falling edge: the
// current level is Low and the time since the last accepted edge exceeds
// debounce (strictly, per the boundary law — exact equality to debounce
// is not accepted).
func (s *edgeSlot) acceptFalling(level gpio.Level, now time.Time, debounce time.Duration) bool {
	accept := s.initialized && level == gpio.Low && now.Sub(s.lastAccepted) > debounce
	if !s.initialized {
		// First observation establishes a baseline; a falling edge can't
		// be detected without a prior level to fall from.
		accept = false
	}
	s.initialized = true
	if accept {
		s.lastAccepted = now
	}
	return accept
}

// SensorMonitor is the heart of the core: a single long-running task that
// polls the gate sensor and every lane sensor, debounces, and emits the
// two-way match decision of the Gated-FIFO algorithm.
type SensorMonitor struct {
	store    *StateStore
	maint    *Maintenance
	qrq      *QRQueue
	tokq     *TokenQueue
	gp       gpio.Provider
	exec     *Executor
	entryPin int
	log      *Logger

	gate  edgeSlot
	lanes []edgeSlot

	now func() time.Time
}

// NewSensorMonitor builds a monitor for laneCount lanes.
func NewSensorMonitor(store *StateStore, maint *Maintenance, qrq *QRQueue, tokq *TokenQueue, gp gpio.Provider, exec *Executor, entryPin int, laneCount int, log *Logger) *SensorMonitor {
	return &SensorMonitor{
		store:    store,
		maint:    maint,
		qrq:      qrq,
		tokq:     tokq,
		gp:       gp,
		exec:     exec,
		entryPin: entryPin,
		log:      log,
		lanes:    make([]edgeSlot, laneCount),
		now:      time.Now,
	}
}

// Run polls at ~200 Hz until ctx is cancelled, skipping iterations while
// maintenance is active or autoTest reports true.
func (m *SensorMonitor) Run(ctx context.Context, autoTest func() bool) {
	t := time.NewTicker(monitorPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.maint.Active() || (autoTest != nil && autoTest()) {
				continue
			}
			m.iteration(ctx)
		}
	}
}

func (m *SensorMonitor) iteration(ctx context.Context) {
	timing := m.store.Timing()

	// 1. QR-queue liveness.
	if item, ok := m.qrq.TimeoutHead(timing.QueueHeadTimeoutD()); ok {
		m.store.UpdateLane(item.LaneIndex, func(l *LaneRuntime) { l.Status = StatusReady })
		if m.log != nil {
			m.log.Warning().Str("lane_id", item.LaneID).Str("qr_key", item.QRKey).Log("qr queue head timed out")
		}
	}

	// 2. Gate-sensor sampling.
	gateLevel, err := gpio.ReadSensor(m.gp, m.entryPin)
	if err != nil {
		m.maint.Trigger("gate sensor read failure: " + err.Error())
		return
	}
	m.store.SetGateReading(int(gateLevel))
	now := m.now()
	gateEdge := m.gate.acceptFalling(gateLevel, now, timing.SensorDebounceD())
	if gateEdge {
		n := m.tokq.Add()
		m.store.SetTokenCount(n)
		if m.log != nil {
			m.log.Debug().Log("gate edge accepted")
		}
	} else {
		m.store.SetTokenCount(m.tokq.Length())
	}

	// 3. Per-lane sensor sampling.
	n := m.store.LaneCount()
	for i := 0; i < n && i < len(m.lanes); i++ {
		lane, ok := m.store.Lane(i)
		if !ok {
			continue
		}
		level, err := gpio.ReadSensor(m.gp, lane.SensorPin)
		if err != nil {
			m.maint.Trigger("lane " + lane.ID + " sensor read failure: " + err.Error())
			continue
		}
		m.store.UpdateLane(i, func(l *LaneRuntime) { l.SensorReading = int(level) })
		if !m.lanes[i].acceptFalling(level, now, timing.SensorDebounceD()) {
			continue
		}
		m.handleLaneEdge(ctx, i, lane)
	}
}

// handleLaneEdge implements the two-way match decision table of the
// sensor monitor: a lane's debounced falling edge against the presence of
// a queued QR item for that lane and an available token.
func (m *SensorMonitor) handleLaneEdge(ctx context.Context, laneIndex int, lane LaneRuntime) {
	item, hasItem := m.qrq.PopByLane(laneIndex)
	hasToken := m.tokq.Consume()

	switch {
	case hasItem && hasToken:
		m.store.SetTokenCount(m.tokq.Length())
		_ = m.exec.Submit(ctx, SortJob{LaneIndex: laneIndex, HasQR: true, QRKey: item.QRKey, LaneID: item.LaneID})

	case hasItem && !hasToken:
		// False trigger: sensor fired before the matching gate token
		// arrived. Return the item to the front, preserving its
		// timestamp, so the head-timeout can still drain it.
		m.qrq.PushFront(item)
		if m.log != nil {
			m.log.Warning().Str("lane_id", lane.ID).Log("false trigger: lane edge with no token")
		}

	case !hasItem && hasToken && !lane.IsSorting():
		// Pass-through lane: a token with no QR is expected and consumed.
		m.store.SetTokenCount(m.tokq.Length())
		_ = m.exec.Submit(ctx, SortJob{LaneIndex: laneIndex, HasQR: false})

	case !hasItem && hasToken && lane.IsSorting():
		// Waiting for QR: put the token back, nothing consumed.
		m.tokq.Add()
		m.store.SetTokenCount(m.tokq.Length())
		if m.log != nil {
			m.log.Info().Str("lane_id", lane.ID).Log("waiting for qr")
		}

	default:
		if m.log != nil {
			m.log.Warning().Str("lane_id", lane.ID).Log("spurious trigger")
		}
	}
}
