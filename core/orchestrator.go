package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"sortctl/bus"
	"sortctl/config"
	"sortctl/detector"
	"sortctl/errcode"
	"sortctl/gpio"
)

// Orchestrator owns every long-lived component and the lifecycle glue
// that starts and stops them together. It is the single explicitly
// constructed value passed to every task, replacing the source's
// process-wide singletons.
type Orchestrator struct {
	cfgStore *config.Store
	gp       gpio.Provider
	entryPin int

	Bus   *bus.Bus
	conn  *bus.Connection
	Log   *Logger
	Store *StateStore
	Maint *Maintenance
	QRQ   *QRQueue
	TokQ  *TokenQueue
	Exec  *Executor
	Mon   *SensorMonitor
	Ing   *Ingester
	Bcast *Broadcaster

	autoTest atomic.Bool

	cancel context.CancelFunc
}

// NewOrchestrator loads config, binds GPIO pins to their startup state,
// and wires the state store, bus, maintenance latch and both queues; the
// executor, monitor, ingester and broadcaster are built by Run. A config
// load failure triggers maintenance and continues with defaults. A GPIO
// setup failure aborts startup (the source's "GPIO setup conflict"
// policy): maintenance is triggered and the error propagates.
func NewOrchestrator(cfgStore *config.Store, gp gpio.Provider, log *Logger, authEnabled bool) (*Orchestrator, error) {
	doc, err := cfgStore.Load()
	if err != nil {
		log.Err().Err(err).Log("config load failed, continuing with defaults")
	}

	store := NewStateStore(doc.LanesConfig, doc.TimingConfig, gp.IsMock(), authEnabled)

	b := bus.NewBus(8)
	conn := b.NewConnection("core")

	maint := NewMaintenance(store, conn, log)
	if err != nil {
		maint.Trigger(fmt.Sprintf("config load failed: %v", err))
	}

	mode := gpio.BCM
	if doc.TimingConfig.GPIOMode == "BOARD" {
		mode = gpio.BOARD
	}
	lanesLike := make([]gpio.LaneLike, len(doc.LanesConfig))
	for i, l := range doc.LanesConfig {
		lanesLike[i] = gpio.LaneLike{SensorPin: l.SensorPin, PushPin: l.PushPin, PullPin: l.PullPin}
	}
	if err := gpio.SetupPins(gp, mode, lanesLike, config.DefaultEntryPin); err != nil {
		maint.Trigger(fmt.Sprintf("GPIO setup failed: %v", err))
		return nil, &errcode.E{C: errcode.GPIONotReady, Op: "setup pins", Err: err}
	}

	qrq := NewQRQueue(store)
	tokq := NewTokenQueue()

	o := &Orchestrator{
		cfgStore: cfgStore,
		gp:       gp,
		entryPin: config.DefaultEntryPin,
		Bus:      b,
		conn:     conn,
		Log:      log,
		Store:    store,
		Maint:    maint,
		QRQ:      qrq,
		TokQ:     tokq,
	}
	return o, nil
}

// Run starts every long-lived task and blocks until ctx is cancelled.
// results feeds the ingester; callers own the camera/detector pairing
// that produces it (out of scope per the spec).
func (o *Orchestrator) Run(ctx context.Context, results <-chan detector.Result) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.Exec = NewExecutor(ctx, o.Store, o.Maint, o.gp, o.conn, o.Log)
	o.Mon = NewSensorMonitor(o.Store, o.Maint, o.QRQ, o.TokQ, o.gp, o.Exec, o.entryPin, o.Store.LaneCount(), o.Log)
	o.Ing = NewIngester(o.Store, o.QRQ, o.Log)
	o.Bcast = NewBroadcaster(o.Store, o.conn)

	go o.Mon.Run(ctx, o.autoTest.Load)
	go o.Ing.Run(ctx, results, o.autoTest.Load)
	go o.Bcast.Run(ctx)
	go o.autosave(ctx)

	<-ctx.Done()
}

// Shutdown stops every long-lived task and releases the GPIO provider.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	_ = o.gp.Cleanup()
}

// autosave mirrors the source's periodic_save_thread: every minute,
// unless in maintenance, persist config and today's counters.
func (o *Orchestrator) autosave(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if o.Maint.Active() {
				continue
			}
			doc := config.Document{TimingConfig: o.Store.Timing(), LanesConfig: o.Store.LanesConfig()}
			if err := o.cfgStore.Save(doc); err != nil {
				o.Log.Err().Err(err).Log("autosave config failed")
			}
			day := time.Now().Format("2006-01-02")
			if err := o.cfgStore.RecordCounts(day, o.Store.CountsByName()); err != nil {
				o.Log.Err().Err(err).Log("autosave sort log failed")
			}
		}
	}
}

// ConfigSnapshot returns the current timing/lanes document.
func (o *Orchestrator) ConfigSnapshot() config.Document {
	return config.Document{TimingConfig: o.Store.Timing(), LanesConfig: o.Store.LanesConfig()}
}

// SortLog returns the persisted daily counter history.
func (o *Orchestrator) SortLog() config.SortLog { return o.cfgStore.LoadSortLog() }

// ApplyConfig merges timing fields and replaces lanes wholesale when
// present, persists the result, and reports whether a restart is
// required (any change to gpio_mode or lanes_config).
func (o *Orchestrator) ApplyConfig(patch config.Document, lanesPresent bool) (restartRequired bool, err error) {
	current := o.ConfigSnapshot()
	merged := config.Merge(current, patch, lanesPresent)

	if merged.TimingConfig.GPIOMode != current.TimingConfig.GPIOMode {
		restartRequired = true
	}
	if lanesPresent {
		restartRequired = true
	}

	o.Store.SetTiming(merged.TimingConfig)
	if lanesPresent {
		o.Store.SetLanesConfig(merged.LanesConfig)
		if o.Ing != nil {
			o.Ing.RefreshLaneMap()
		}
	}
	if err := o.cfgStore.Save(merged); err != nil {
		return restartRequired, err
	}
	return restartRequired, nil
}

// ResetMaintenance clears the latch then clears both queues, restoring a
// clean queue algebra, and restores the GPIO safe baseline.
func (o *Orchestrator) ResetMaintenance() error {
	o.Maint.Reset()
	o.ClearAllQueues()
	lanesLike := make([]gpio.LaneLike, 0, o.Store.LaneCount())
	for _, l := range o.Store.LanesConfig() {
		lanesLike = append(lanesLike, gpio.LaneLike{SensorPin: l.SensorPin, PushPin: l.PushPin, PullPin: l.PullPin})
	}
	return gpio.ResetAllRelays(o.gp, lanesLike)
}

// ClearAllQueues empties both queues.
func (o *Orchestrator) ClearAllQueues() {
	o.QRQ.Clear()
	o.TokQ.Clear()
}

// ResetCounter resets one lane's counter, or every lane's if index < 0.
func (o *Orchestrator) ResetCounter(index int) bool {
	return o.Store.ResetCounter(index)
}

// ManualRelayTest pulses one relay once, rejected while in maintenance.
func (o *Orchestrator) ManualRelayTest(ctx context.Context, laneIndex int, relay string) error {
	if o.Maint.Active() {
		return errcode.MaintenanceActive
	}
	return o.Exec.ManualRelayTest(ctx, laneIndex, relay)
}

// SweepAllRelays runs the full cycle on every sorting lane, rejected
// while in maintenance.
func (o *Orchestrator) SweepAllRelays(ctx context.Context) error {
	if o.Maint.Active() {
		return errcode.MaintenanceActive
	}
	return o.Exec.SweepAllRelays(ctx)
}

// SetMockSensor sets pin's logical state, only valid against the mock
// provider.
func (o *Orchestrator) SetMockSensor(pin int, active bool) error {
	m, ok := o.gp.(*gpio.Mock)
	if !ok {
		return errcode.NotMockProvider
	}
	m.SetInputState(pin, active)
	return nil
}

// ToggleAutoTest flips the idle flag the monitor and ingester check on
// every iteration. Disabling it also restores the GPIO safe baseline,
// matching the control plane's toggle handler.
func (o *Orchestrator) ToggleAutoTest(enabled bool) {
	o.autoTest.Store(enabled)
	o.Store.SetAutoTestActive(enabled)
	if !enabled {
		lanesLike := make([]gpio.LaneLike, 0, o.Store.LaneCount())
		for _, l := range o.Store.LanesConfig() {
			lanesLike = append(lanesLike, gpio.LaneLike{SensorPin: l.SensorPin, PushPin: l.PushPin, PullPin: l.PullPin})
		}
		_ = gpio.ResetAllRelays(o.gp, lanesLike)
	}
}

// BroadcastLog publishes a user-facing log line on the "log" topic, picked
// up by every websocket client. kind mirrors the source's log_type field
// ("info", "success", "warn", "error").
func (o *Orchestrator) BroadcastLog(kind, message string) {
	o.conn.Publish(o.conn.NewMessage(bus.T("log"), map[string]any{
		"log_type": kind,
		"message":  message,
	}, false))
}

// IsMaintenanceActive reports whether the maintenance latch is set.
func (o *Orchestrator) IsMaintenanceActive() bool { return o.Maint.Active() }
