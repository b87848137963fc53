package core

import (
	"context"
	"time"

	"sortctl/detector"
)

// Ingester consumes detector results, normalizes each through the
// canonical-key function, maps it to a lane index, applies the
// duplicate-suppression window, and appends to the QR queue.
type Ingester struct {
	store     *StateStore
	qrq       *QRQueue
	dedup     *detector.Dedup
	laneByKey map[string]laneRef
	log       *Logger
}

type laneRef struct {
	index int
	id    string
}

// NewIngester builds the canonical-key -> lane-index map from the
// current lane set.
func NewIngester(store *StateStore, qrq *QRQueue, log *Logger) *Ingester {
	ing := &Ingester{store: store, qrq: qrq, dedup: detector.NewDedup(), log: log}
	ing.rebuildLaneMap()
	return ing
}

func (ing *Ingester) rebuildLaneMap() {
	lanes := ing.store.LanesConfig()
	m := make(map[string]laneRef, len(lanes))
	for i, l := range lanes {
		m[detector.Canon(l.ID)] = laneRef{index: i, id: l.ID}
	}
	ing.laneByKey = m
}

// RefreshLaneMap re-derives the canonical-key map after a config change.
func (ing *Ingester) RefreshLaneMap() { ing.rebuildLaneMap() }

// Run consumes results until ctx is cancelled or the channel closes, and
// idles (forwards nothing) while autoTest reports true.
func (ing *Ingester) Run(ctx context.Context, results <-chan detector.Result, autoTest func() bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if autoTest != nil && autoTest() {
				continue
			}
			ing.ingest(res)
		}
	}
}

func (ing *Ingester) ingest(res detector.Result) {
	key := detector.Canon(res.Raw)
	if !ing.dedup.Accept(key) {
		return
	}
	ref, ok := ing.laneByKey[key]
	if !ok {
		if ing.log != nil {
			ing.log.Debug().Str("qr_key", key).Log("recognized code maps to no configured lane")
		}
		return
	}
	item := QRQueueItem{
		LaneIndex: ref.index,
		QRKey:     key,
		LaneID:    ref.id,
		Timestamp: time.Now(),
		DataRaw:   res.Raw,
		Source:    res.Source,
	}
	ing.qrq.PushBack(item)
	ing.store.UpdateLane(ref.index, func(l *LaneRuntime) { l.Status = StatusWaitingForItem })
}
