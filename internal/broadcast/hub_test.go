package broadcast

import (
	"testing"
	"time"
)

func TestAttachDeliversSnapshotFirst(t *testing.T) {
	h := NewHub(func() any { return map[string]int{"tasks": 2} })
	ch, detach := h.Attach()
	defer detach()

	h.Publish(Event{Type: "task_registered", SessionID: "s1"})

	first := <-ch
	if first.Type != "snapshot" {
		t.Fatalf("first event type = %q, want snapshot", first.Type)
	}
	second := <-ch
	if second.Type != "task_registered" || second.SessionID != "s1" {
		t.Fatalf("second event = %+v", second)
	}
	if second.Timestamp.IsZero() {
		t.Fatalf("published event should carry a timestamp")
	}
}

func TestDetachStopsDeliveries(t *testing.T) {
	h := NewHub(nil)
	ch, detach := h.Attach()
	<-ch // snapshot

	detach()
	h.Publish(Event{Type: "escalation"})

	// Detach closes the channel; no further events may arrive before close.
	if evt, ok := <-ch; ok {
		t.Fatalf("received event after detach: %+v", evt)
	}
	if h.ObserverCount() != 0 {
		t.Fatalf("ObserverCount() = %d, want 0", h.ObserverCount())
	}
}

func TestStuckObserverIsPruned(t *testing.T) {
	h := NewHub(nil)
	ch, detach := h.Attach()
	defer detach()
	<-ch // snapshot

	// Never drain: fill the buffer, then overflow past the prune threshold.
	for i := 0; i < observerBuffer+pruneThreshold; i++ {
		h.Publish(Event{Type: "idle_check"})
	}
	if h.ObserverCount() != 0 {
		t.Fatalf("ObserverCount() = %d, want 0 after pruning", h.ObserverCount())
	}
}

func TestCloseDetachesEveryObserver(t *testing.T) {
	h := NewHub(nil)
	ch1, _ := h.Attach()
	ch2, _ := h.Attach()
	<-ch1
	<-ch2

	h.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("ch1 should be closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("ch2 should be closed")
	}

	// Publishing after close is a no-op.
	h.Publish(Event{Type: "escalation", Timestamp: time.Now()})
	if h.ObserverCount() != 0 {
		t.Fatalf("ObserverCount() = %d, want 0", h.ObserverCount())
	}
}
