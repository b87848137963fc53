package core

import (
	"context"
	"time"

	"sortctl/bus"
	"sortctl/config"
	"sortctl/gpio"
)

// SortJob is one unit of work for the executor. The lane decides the
// cycle: a sorting lane runs the piston cycle, a pass-through lane the
// short pass-through. HasQR records whether a queued recognition was
// matched. Manual relay tests do not go through SortJob.
type SortJob struct {
	LaneIndex int
	HasQR     bool
	QRKey     string
	LaneID    string
}

const workerPoolSize = 5

// Executor runs sort cycles from a bounded pool of workers reading off one
// channel. ManualRelayTest and SweepAllRelays do not use the pool: they
// run on the caller's goroutine, so the pool bound does not limit them.
type Executor struct {
	store *StateStore
	maint *Maintenance
	gp    gpio.Provider
	conn  *bus.Connection
	log   *Logger

	jobs chan SortJob
	done chan struct{}
}

// NewExecutor starts the worker pool; cancel ctx to stop it (in-flight
// cycles are not awaited, matching the shutdown policy of not waiting on
// the pool).
func NewExecutor(ctx context.Context, store *StateStore, maint *Maintenance, gp gpio.Provider, conn *bus.Connection, log *Logger) *Executor {
	e := &Executor{
		store: store,
		maint: maint,
		gp:    gp,
		conn:  conn,
		log:   log,
		jobs:  make(chan SortJob, workerPoolSize*2),
		done:  make(chan struct{}),
	}
	for i := 0; i < workerPoolSize; i++ {
		go e.worker(ctx)
	}
	return e
}

// Submit enqueues job, blocking until a slot is free or ctx is done.
func (e *Executor) Submit(ctx context.Context, job SortJob) error {
	select {
	case e.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.run(ctx, job)
		}
	}
}

func (e *Executor) run(ctx context.Context, job SortJob) {
	if e.maint.Active() {
		return
	}
	timing := e.store.Timing()
	lane, ok := e.store.Lane(job.LaneIndex)
	if !ok {
		return
	}

	if lane.IsSorting() {
		e.store.UpdateLane(job.LaneIndex, func(l *LaneRuntime) { l.Status = StatusWaitingForPush })
		if timing.PushDelayD() > 0 {
			if !sleepCtx(ctx, timing.PushDelayD()) {
				return
			}
		}
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	if !lane.IsSorting() {
		e.store.UpdateLane(job.LaneIndex, func(l *LaneRuntime) { l.Status = StatusPassingThrough })
		sleepCtx(ctx, 100*time.Millisecond)
		e.succeed(job.LaneIndex, lane.Name, "pass-through")
		return
	}

	e.store.UpdateLane(job.LaneIndex, func(l *LaneRuntime) { l.Status = StatusSorting })
	if err := e.pistonCycle(ctx, job.LaneIndex, lane, timing); err != nil {
		e.store.UpdateLane(job.LaneIndex, func(l *LaneRuntime) { l.Status = StatusReady })
		e.maint.Trigger("piston cycle GPIO fault on lane " + lane.ID + ": " + err.Error())
		return
	}
	e.succeed(job.LaneIndex, lane.Name, "match")
}

// pistonCycle runs the four-phase actuator cycle: pull off/grab
// disengaged, settle; push on, cycle; push off, settle; pull on/grab
// engaged. Any GPIO error aborts mid-cycle without attempting to reverse
// partial motion.
func (e *Executor) pistonCycle(ctx context.Context, laneIndex int, lane LaneRuntime, timing config.TimingConfig) error {
	if err := gpio.RelayOff(e.gp, lane.PullPin); err != nil {
		return err
	}
	e.store.UpdateLane(laneIndex, func(l *LaneRuntime) { l.RelayGrab = 0 })
	if !sleepCtx(ctx, timing.SettleDelayD()) {
		return context.Canceled
	}

	if err := gpio.RelayOn(e.gp, lane.PushPin); err != nil {
		return err
	}
	e.store.UpdateLane(laneIndex, func(l *LaneRuntime) { l.RelayPush = 1 })
	if !sleepCtx(ctx, timing.CycleDelayD()) {
		return context.Canceled
	}

	if err := gpio.RelayOff(e.gp, lane.PushPin); err != nil {
		return err
	}
	e.store.UpdateLane(laneIndex, func(l *LaneRuntime) { l.RelayPush = 0 })
	if !sleepCtx(ctx, timing.SettleDelayD()) {
		return context.Canceled
	}

	if err := gpio.RelayOn(e.gp, lane.PullPin); err != nil {
		return err
	}
	e.store.UpdateLane(laneIndex, func(l *LaneRuntime) { l.RelayGrab = 1 })
	return nil
}

func (e *Executor) succeed(laneIndex int, name, kind string) {
	newCount, _ := e.store.IncrementCount(laneIndex)
	e.store.UpdateLane(laneIndex, func(l *LaneRuntime) { l.Status = StatusReady })
	if e.log != nil {
		e.log.Info().Str("name", name).Str("kind", kind).Int64("count", int64(newCount)).Log("sort complete")
	}
}

// ManualRelayTest pulses a single named relay on laneIndex once.
func (e *Executor) ManualRelayTest(ctx context.Context, laneIndex int, relay string) error {
	lane, ok := e.store.Lane(laneIndex)
	if !ok {
		return nil
	}
	pin := lane.PushPin
	if relay == "grab" {
		pin = lane.PullPin
	}
	if err := gpio.RelayOn(e.gp, pin); err != nil {
		e.maint.Trigger("manual relay test GPIO fault on lane " + lane.ID + ": " + err.Error())
		return err
	}
	if !sleepCtx(ctx, 200*time.Millisecond) {
		return nil
	}
	if err := gpio.RelayOff(e.gp, pin); err != nil {
		e.maint.Trigger("manual relay test GPIO fault on lane " + lane.ID + ": " + err.Error())
		return err
	}
	return nil
}

// SweepAllRelays runs the full four-phase cycle on every sorting lane in
// turn, interruptible via ctx.
func (e *Executor) SweepAllRelays(ctx context.Context) error {
	timing := e.store.Timing()
	n := e.store.LaneCount()
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		lane, ok := e.store.Lane(i)
		if !ok || !lane.IsSorting() {
			continue
		}
		if err := e.pistonCycle(ctx, i, lane, timing); err != nil {
			e.maint.Trigger("sweep GPIO fault on lane " + lane.ID + ": " + err.Error())
			return err
		}
	}
	if e.conn != nil {
		e.conn.Publish(e.conn.NewMessage(bus.T("test", "complete"), nil, false))
	}
	return nil
}

// sleepCtx sleeps for d, waking early (returning false) if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
