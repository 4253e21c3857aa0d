package coordinator

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/swarmlab/overseer/internal/agents"
	"github.com/swarmlab/overseer/internal/llm"
	"github.com/swarmlab/overseer/internal/observability"
)

func TestAutonomousRespondSendsText(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","response":"y","reasoning":"safe to proceed"}`)

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue? [y/n]"})
	c.decisionWG.Wait()

	texts := mgr.Texts()
	if len(texts) != 1 || texts[0].SessionID != "s1" || texts[0].Text != "y" {
		t.Fatalf("Texts() = %+v, want one send of %q", texts, "y")
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 1 || got.Decisions[0].Kind != DecisionRespond {
		t.Fatalf("Decisions = %+v, want one respond", got.Decisions)
	}
	if got.AutoResolvedCount != 1 {
		t.Fatalf("AutoResolvedCount = %d, want 1", got.AutoResolvedCount)
	}
}

func TestAutonomousRespondWithKeys(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","useKeys":true,"keys":["Down","Enter"],"reasoning":"pick second option"}`)

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "choose:"})
	c.decisionWG.Wait()

	if len(mgr.Texts()) != 0 {
		t.Fatalf("Texts() = %+v, want none", mgr.Texts())
	}
	keys := mgr.Keys()
	if len(keys) != 1 || len(keys[0].Keys) != 2 || keys[0].Keys[1] != "Enter" {
		t.Fatalf("Keys() = %+v", keys)
	}
}

func TestAutonomousCompleteStopsSession(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"complete","reasoning":"output shows all tests green"}`)

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "anything else?"})
	c.decisionWG.Wait()

	if stopped := mgr.Stopped(); len(stopped) != 1 || stopped[0] != "s1" {
		t.Fatalf("Stopped() = %+v", stopped)
	}
	got, _ := c.TaskSnapshot("s1")
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
}

func TestModelFailureEscalates(t *testing.T) {
	c, mgr, brain, rec := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Fail(errors.New("provider timeout"))

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "??"})
	c.decisionWG.Wait()

	if len(mgr.Texts()) != 0 || len(mgr.Keys()) != 0 {
		t.Fatalf("nothing should be sent on model failure")
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 1 || got.Decisions[0].Kind != DecisionEscalate {
		t.Fatalf("Decisions = %+v, want one escalate", got.Decisions)
	}
	if rec.count() == 0 {
		t.Fatalf("escalation should notify a human")
	}
}

func TestUnparseableOutputEscalates(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script("sure, just hit enter!")

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "??"})
	c.decisionWG.Wait()

	if len(mgr.Texts()) != 0 {
		t.Fatalf("nothing should be sent on unparseable output")
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 1 || got.Decisions[0].Kind != DecisionEscalate {
		t.Fatalf("Decisions = %+v, want one escalate", got.Decisions)
	}
}

func TestModelEscalateCountsInMetrics(t *testing.T) {
	// Unique namespace: instruments register once in the default registry.
	metrics := observability.NewMetrics("overseer_escalate_count_test")
	mgr := agents.NewMock()
	brain := llm.NewMockAdapter()
	c := New(Config{}, mgr, brain, metrics, nil)
	c.SetNotifier(func(string, ...any) {})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"escalate","reasoning":"touches production credentials"}`)

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "apply?"})
	c.decisionWG.Wait()

	if got := testutil.ToFloat64(metrics.Escalations.WithLabelValues("model_decision")); got != 1 {
		t.Fatalf("escalations{model_decision} = %v, want 1", got)
	}
	task, _ := c.TaskSnapshot("s1")
	if len(task.Decisions) != 1 || task.Decisions[0].Kind != DecisionEscalate {
		t.Fatalf("Decisions = %+v, want one escalate", task.Decisions)
	}
}

func TestCeilingForcesEscalationWithoutModelCall(t *testing.T) {
	c, _, brain, _ := newTestCoordinator(Config{AutoResolveLimit: 10})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": true, "prompt": "auto"})
	}

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "keep going?"})
	c.decisionWG.Wait()

	if len(brain.Prompts()) != 0 {
		t.Fatalf("model calls = %d, want 0 at ceiling", len(brain.Prompts()))
	}
	got, _ := c.TaskSnapshot("s1")
	last := got.Decisions[len(got.Decisions)-1]
	if last.Kind != DecisionEscalate || !strings.Contains(last.Reasoning, "ceiling") {
		t.Fatalf("last decision = %+v, want ceiling escalate", last)
	}
}

func TestConfirmModeQueuesInsteadOfSending(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{Supervision: SupervisionConfirm})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","response":"y","reasoning":"looks safe"}`)

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue?"})
	c.decisionWG.Wait()

	if len(mgr.Texts()) != 0 {
		t.Fatalf("confirm mode must not send")
	}
	pending := c.PendingConfirmations()
	if len(pending) != 1 || pending[0].SessionID != "s1" {
		t.Fatalf("PendingConfirmations() = %+v", pending)
	}
	if pending[0].LLMDecision.Action != DecisionRespond || pending[0].Task.Label != "fix-tests" {
		t.Fatalf("pending payload = %+v", pending[0])
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 0 {
		t.Fatalf("nothing should be recorded before the verdict")
	}
}

func TestConfirmRejectRemovesAndSendsNothing(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{Supervision: SupervisionConfirm})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","response":"y"}`)
	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue?"})
	c.decisionWG.Wait()

	if err := c.ConfirmDecision("s1", false, nil); err != nil {
		t.Fatalf("ConfirmDecision() error = %v", err)
	}
	if len(mgr.Texts()) != 0 {
		t.Fatalf("reject must not send")
	}
	if len(c.PendingConfirmations()) != 0 {
		t.Fatalf("pending entry should be removed")
	}
}

func TestConfirmApproveWithOverride(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{Supervision: SupervisionConfirm})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","response":"y"}`)
	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue?"})
	c.decisionWG.Wait()

	if err := c.ConfirmDecision("s1", true, &Override{Response: "n"}); err != nil {
		t.Fatalf("ConfirmDecision() error = %v", err)
	}
	texts := mgr.Texts()
	if len(texts) != 1 || texts[0].Text != "n" {
		t.Fatalf("Texts() = %+v, want override %q", texts, "n")
	}
	got, _ := c.TaskSnapshot("s1")
	if len(got.Decisions) != 1 || got.Decisions[0].Response != "n" {
		t.Fatalf("Decisions = %+v, want recorded override", got.Decisions)
	}
	if got.AutoResolvedCount != 0 {
		t.Fatalf("human-approved decisions must not count as auto-resolved")
	}
}

func TestConfirmWithoutPendingFails(t *testing.T) {
	c, _, _, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	err := c.ConfirmDecision("s1", true, nil)
	if err == nil || !strings.Contains(err.Error(), "No pending decision") {
		t.Fatalf("ConfirmDecision() error = %v, want no-pending error", err)
	}
}

func TestNotifyModeNeverCallsModelOrSends(t *testing.T) {
	c, mgr, brain, rec := newTestCoordinator(Config{Supervision: SupervisionNotify})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue?"})
	c.decisionWG.Wait()

	if len(brain.Prompts()) != 0 {
		t.Fatalf("notify mode must not call the model")
	}
	if len(mgr.Texts()) != 0 || len(mgr.Keys()) != 0 {
		t.Fatalf("notify mode must not send")
	}
	if rec.count() == 0 {
		t.Fatalf("notify mode should still tell a human")
	}
}

func TestInFlightGuardSkipsSecondDecision(t *testing.T) {
	c, mgr, brain, _ := newTestCoordinator(Config{})
	if err := c.RegisterTask("s1", testMeta()); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	brain.Script(`{"action":"respond","response":"y"}`)

	c.mu.Lock()
	c.inflight["s1"] = true
	c.mu.Unlock()

	c.HandleSessionEvent("s1", "blocked", map[string]any{"autoResponded": false, "prompt": "continue?"})
	c.decisionWG.Wait()

	if len(mgr.Texts()) != 0 || len(brain.Prompts()) != 0 {
		t.Fatalf("in-flight session must not start a second decision")
	}
}

func TestParseLLMDecision(t *testing.T) {
	if dec := parseLLMDecision("```json\n{\"action\":\"respond\",\"response\":\"y\"}\n```"); dec == nil || dec.Response != "y" {
		t.Fatalf("fenced JSON should parse, got %+v", dec)
	}
	if dec := parseLLMDecision(`{"action":"ignore","reasoning":"still compiling"}`); dec == nil {
		t.Fatalf("plain JSON should parse")
	}
	for _, raw := range []string{
		"",
		"just press enter",
		`{"action":"launch_missiles"}`,
		`{"action":"respond"}`,
		`{"action":"respond","useKeys":true,"keys":[]}`,
	} {
		if dec := parseLLMDecision(raw); dec != nil {
			t.Fatalf("parseLLMDecision(%q) = %+v, want nil", raw, dec)
		}
	}
}
