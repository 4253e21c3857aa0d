package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/swarmlab/overseer/internal/agents"
	"github.com/swarmlab/overseer/internal/broadcast"
	"github.com/swarmlab/overseer/internal/llm"
)

type notifyRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *notifyRecorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func (r *notifyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestCoordinator(cfg Config) (*Coordinator, *agents.Mock, *llm.MockAdapter, *notifyRecorder) {
	mgr := agents.NewMock()
	brain := llm.NewMockAdapter()
	c := New(cfg, mgr, brain, nil, nil)
	rec := &notifyRecorder{}
	c.SetNotifier(rec.record)
	return c, mgr, brain, rec
}

func testMeta() TaskMeta {
	return TaskMeta{
		AgentType:    "claude",
		Label:        "fix-tests",
		OriginalTask: "make the suite pass",
		Workdir:      "/work/repo",
	}
}

func TestRegisterTaskInitialState(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})

	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	got, err := c.TaskSnapshot("s1")
	if err != nil {
		t.Fatalf("TaskSnapshot() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("Status = %q, want active", got.Status)
	}
	if len(got.Decisions) != 0 {
		t.Fatalf("Decisions = %d, want 0", len(got.Decisions))
	}
	if got.AutoResolvedCount != 0 {
		t.Fatalf("AutoResolvedCount = %d, want 0", got.AutoResolvedCount)
	}
	if got.AgentType != "claude" || got.Workdir != "/work/repo" {
		t.Fatalf("metadata not preserved: %+v", got)
	}
}

func TestRegisterTaskRejectsDuplicate(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	if err := c.RegisterTask("s1", TaskMeta{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second RegisterTask() error = %v, want ErrAlreadyRegistered", err)
	}

	got, _ := c.TaskSnapshot("s1")
	if got.Label != "fix-tests" {
		t.Fatalf("original context should be untouched: %+v", got)
	}
}

func TestBufferedEventsReplayInOrder(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "first?"})
	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "second?"})
	c.HandleSessionEvent("s1", "task_complete", nil)

	if _, err := c.TaskSnapshot("s1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("task should not exist before registration")
	}

	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	got, _ := c.TaskSnapshot("s1")
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed after replay", got.Status)
	}
	if len(got.Decisions) != 2 {
		t.Fatalf("Decisions = %d, want 2", len(got.Decisions))
	}
	if got.Decisions[0].PromptText != "first?" || got.Decisions[1].PromptText != "second?" {
		t.Fatalf("replay out of order: %+v", got.Decisions)
	}
	if got.AutoResolvedCount != 2 {
		t.Fatalf("AutoResolvedCount = %d, want 2", got.AutoResolvedCount)
	}
}

func TestEventBufferDropsOldest(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{EventBufferCap: 2})

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "one"})
	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "two"})
	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "three"})

	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 2 {
		t.Fatalf("Decisions = %d, want 2 (oldest dropped)", len(got.Decisions))
	}
	if got.Decisions[0].PromptText != "two" || got.Decisions[1].PromptText != "three" {
		t.Fatalf("wrong retained suffix: %+v", got.Decisions)
	}
}

func TestStatusEventsUpdateStatus(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})

	cases := map[string]Status{
		"task_complete": StatusCompleted,
		"error":         StatusError,
		"stopped":       StatusStopped,
	}
	i := 0
	for event, want := range cases {
		id := fmt.Sprintf("s%d", i)
		i++
		if err := c.RegisterTask(id, testMeta()); err != nil {
			t.Fatalf("RegisterTask() error = %v", err)
		}
		c.HandleSessionEvent(id, event, nil)
		got, _ := c.TaskSnapshot(id)
		if got.Status != want {
			t.Fatalf("event %q: Status = %q, want %q", event, got.Status, want)
		}
	}
}

func TestAutoRespondedNeverCallsModel(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "overwrite file?"})
	c.decisionWG.Wait()

	if len(brain.Prompts()) != 0 {
		t.Fatalf("model calls = %d, want 0", len(brain.Prompts()))
	}
	if len(mgr.Texts()) != 0 {
		t.Fatalf("session sends = %d, want 0", len(mgr.Texts()))
	}
	got, _ := c.TaskSnapshot("s1")
	if got.AutoResolvedCount != 1 {
		t.Fatalf("AutoResolvedCount = %d, want 1", got.AutoResolvedCount)
	}
	if len(got.Decisions) != 1 || got.Decisions[0].Kind != DecisionAutoResolved {
		t.Fatalf("Decisions = %+v, want one auto_resolved", got.Decisions)
	}
}

func TestUnknownEventBroadcastVerbatim(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	ch, detach := c.Hub().Attach()
	defer detach()
	<-ch // snapshot

	c.HandleSessionEvent("s1", "progress", map[string]any{"lines": 12})

	evt := waitEvent(t, ch)
	if evt.Type != "progress" || evt.SessionID != "s1" {
		t.Fatalf("event = %+v", evt)
	}
	got, _ := c.TaskSnapshot("s1")
	if got.Status != StatusActive || len(got.Decisions) != 0 {
		t.Fatalf("observability event should not change state: %+v", got)
	}
}

func TestObserverSnapshotFirst(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	ch, detach := c.Hub().Attach()
	first := <-ch
	if first.Type != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", first.Type)
	}
	snap, ok := first.Data.(snapshotData)
	if !ok {
		t.Fatalf("snapshot payload type %T", first.Data)
	}
	if snap.SupervisionLevel != SupervisionAutonomous || len(snap.Tasks) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	detach()
	c.HandleSessionEvent("s1", "task_complete", nil)
	if evt, open := <-ch; open {
		t.Fatalf("received event after detach: %+v", evt)
	}
}

func TestSupervisionValidation(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})

	if _, err := c.SetSupervision("bogus"); err == nil {
		t.Fatalf("SetSupervision(bogus) should fail")
	}
	if c.Supervision() != SupervisionAutonomous {
		t.Fatalf("Supervision() = %q, want unchanged autonomous", c.Supervision())
	}

	level, err := c.SetSupervision("confirm")
	if err != nil || level != SupervisionConfirm {
		t.Fatalf("SetSupervision(confirm) = %q, %v", level, err)
	}
	if c.Supervision() != SupervisionConfirm {
		t.Fatalf("Supervision() = %q, want confirm", c.Supervision())
	}
}

func waitEvent(t *testing.T, ch <-chan broadcast.Event) broadcast.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return broadcast.Event{}
	}
}
