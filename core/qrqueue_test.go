package core

import (
	"testing"
	"time"

	"sortctl/config"
)

func newTestStore() *StateStore {
	return NewStateStore(config.DefaultLanes(), config.DefaultTiming(), true, false)
}

func TestQRQueuePushBackPopByLaneFIFOPerLane(t *testing.T) {
	store := newTestStore()
	q := NewQRQueue(store)

	q.PushBack(QRQueueItem{LaneIndex: 0, QRKey: "A1", Timestamp: time.Now()})
	q.PushBack(QRQueueItem{LaneIndex: 1, QRKey: "B1", Timestamp: time.Now()})
	q.PushBack(QRQueueItem{LaneIndex: 0, QRKey: "A2", Timestamp: time.Now()})

	item, ok := q.PopByLane(0)
	if !ok || item.QRKey != "A1" {
		t.Fatalf("expected earliest lane-0 item A1, got %+v ok=%v", item, ok)
	}
	item, ok = q.PopByLane(0)
	if !ok || item.QRKey != "A2" {
		t.Fatalf("expected second lane-0 item A2, got %+v ok=%v", item, ok)
	}
	_, ok = q.PopByLane(0)
	if ok {
		t.Fatal("expected no more lane-0 items")
	}
}

func TestQRQueueLaneIndexInvariant(t *testing.T) {
	store := newTestStore()
	q := NewQRQueue(store)
	n := store.LaneCount()
	q.PushBack(QRQueueItem{LaneIndex: 0})
	q.PushBack(QRQueueItem{LaneIndex: n - 1})
	for _, idx := range store.Snapshot().QueueIndices {
		if idx < 0 || idx >= n {
			t.Fatalf("queue index %d out of range [0,%d)", idx, n)
		}
	}
}

func TestQRQueueReturnToFrontPreservesTimestamp(t *testing.T) {
	store := newTestStore()
	q := NewQRQueue(store)
	ts := time.Now().Add(-10 * time.Second)
	item := QRQueueItem{LaneIndex: 0, QRKey: "A", Timestamp: ts}
	q.PushBack(item)

	popped, ok := q.PopByLane(0)
	if !ok {
		t.Fatal("expected to pop item")
	}
	q.PushFront(popped)

	head, ok := q.TimeoutHead(0)
	if !ok {
		t.Fatal("expected head present")
	}
	if !head.Timestamp.Equal(ts) {
		t.Fatalf("timestamp not preserved: got %v, want %v", head.Timestamp, ts)
	}
}

func TestQRQueueTimeoutHeadBoundary(t *testing.T) {
	store := newTestStore()
	q := NewQRQueue(store)
	q.PushBack(QRQueueItem{LaneIndex: 0, Timestamp: time.Now().Add(-15 * time.Second)})

	if _, ok := q.TimeoutHead(20 * time.Second); ok {
		t.Fatal("age < maxAge should not time out")
	}
	if _, ok := q.TimeoutHead(15 * time.Second); !ok {
		t.Fatal("age >= maxAge should time out (inclusive boundary)")
	}
}

func TestQRQueueClearEmptiesQueueAndIndices(t *testing.T) {
	store := newTestStore()
	q := NewQRQueue(store)
	q.PushBack(QRQueueItem{LaneIndex: 0})
	q.PushBack(QRQueueItem{LaneIndex: 1})
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
	if len(store.Snapshot().QueueIndices) != 0 {
		t.Fatal("expected empty queue_indices after clear")
	}
}
