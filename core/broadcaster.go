package core

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"sortctl/bus"
)

const broadcastInterval = 500 * time.Millisecond // 2 Hz

// Broadcaster periodically diffs the serialized state snapshot and, only
// when it has changed, publishes it on the bus for the control plane to
// fan out over WebSocket — bandwidth-limiting UI traffic to meaningful
// deltas. Grounded on the teacher's ticker-plus-bus heartbeat service.
type Broadcaster struct {
	store *StateStore
	conn  *bus.Connection
	last  []byte
}

func NewBroadcaster(store *StateStore, conn *bus.Connection) *Broadcaster {
	return &Broadcaster{store: store, conn: conn}
}

func (b *Broadcaster) Run(ctx context.Context) {
	t := time.NewTicker(broadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	snap := b.store.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if bytes.Equal(data, b.last) {
		return
	}
	b.last = data
	if b.conn == nil {
		return
	}
	b.conn.Publish(b.conn.NewMessage(bus.T("state", "update"), snap, true))
}
