package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swarmlab/overseer/internal/broadcast"
)

// startBlockedDecision runs the decision pipeline for a blocked prompt on
// its own goroutine so one session's slow model call never stalls event
// dispatch for the others. The in-flight marker is cleared unconditionally.
func (c *Coordinator) startBlockedDecision(sessionID, promptText string) {
	c.mu.Lock()
	if c.inflight[sessionID] || c.pending[sessionID] != nil {
		c.mu.Unlock()
		return
	}
	t, ok := c.tasks[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.inflight[sessionID] = true
	snapshot := t.clone()
	level := c.supervision
	c.mu.Unlock()

	c.decisionWG.Add(1)
	go func() {
		defer c.decisionWG.Done()
		defer c.clearInflight(sessionID)
		c.decideBlocked(snapshot, promptText, level)
	}()
}

func (c *Coordinator) decideBlocked(t *TaskContext, promptText string, level SupervisionLevel) {
	sessionID := t.SessionID

	// Notify mode reports and stays out of the way: no model call, no send.
	if level == SupervisionNotify {
		c.hub.Publish(broadcast.Event{
			Type:      eventBlocked,
			SessionID: sessionID,
			Data:      map[string]any{"prompt": promptText, "supervisionLevel": level},
		})
		c.notifyHuman("session %s is blocked: %s", sessionID, promptText)
		return
	}

	// Policy ceiling: too many unattended resolutions means a human looks next.
	if t.AutoResolvedCount >= c.cfg.AutoResolveLimit {
		c.escalate(sessionID, eventBlocked, promptText,
			fmt.Sprintf("auto-resolution ceiling reached (%d); refusing to keep answering without a human", c.cfg.AutoResolveLimit),
			"ceiling", true)
		return
	}

	output, _ := c.recentOutput(sessionID)
	dec := c.makeDecision(t, promptText, output)
	if dec == nil {
		c.escalate(sessionID, eventBlocked, promptText,
			"model call failed or returned an unusable answer", "model_failure", true)
		return
	}
	c.dispatchDecision(sessionID, eventBlocked, promptText, *dec, level)
}

// makeDecision builds the policy prompt, invokes the model, and parses the
// answer. A nil result means "cannot decide" and is a normal outcome.
func (c *Coordinator) makeDecision(t *TaskContext, promptText, recentOutput string) *LLMDecision {
	prompt := buildBlockedPrompt(t, promptText, recentOutput)
	raw, err := c.invokeModel(prompt)
	if err != nil {
		log.Printf("coordinator: model call for %s failed: %v", t.SessionID, err)
		return nil
	}
	dec := parseLLMDecision(raw)
	if dec == nil {
		log.Printf("coordinator: unparseable model output for %s: %.200s", t.SessionID, raw)
		if c.metrics != nil {
			c.metrics.LLMErrors.Inc()
		}
	}
	return dec
}

func (c *Coordinator) invokeModel(prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DecisionTimeout)
	defer cancel()

	started := time.Now()
	raw, err := c.brain.Complete(ctx, prompt)
	if c.metrics != nil {
		c.metrics.ObserveLLMLatency(time.Since(started))
		if err != nil {
			c.metrics.LLMErrors.Inc()
		}
	}
	return raw, err
}

// dispatchDecision applies the supervision policy to a successfully parsed
// decision.
func (c *Coordinator) dispatchDecision(sessionID, event, promptText string, dec LLMDecision, level SupervisionLevel) {
	if level == SupervisionConfirm {
		c.enqueueConfirmation(sessionID, event, promptText, dec)
		return
	}

	if err := c.executeDecision(sessionID, dec); err != nil {
		c.escalate(sessionID, event, promptText,
			fmt.Sprintf("decision execution failed: %v", err), "execution_failure", true)
		return
	}
	c.recordExecuted(sessionID, event, promptText, dec, false)
}

// executeDecision is the single execution primitive shared by autonomous
// mode and confirmed decisions.
func (c *Coordinator) executeDecision(sessionID string, dec LLMDecision) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DecisionTimeout)
	defer cancel()

	switch dec.Action {
	case DecisionRespond:
		if dec.UseKeys {
			return c.manager.SendKeys(ctx, sessionID, dec.Keys)
		}
		return c.manager.SendText(ctx, sessionID, dec.Response)
	case DecisionComplete:
		if err := c.manager.Stop(ctx, sessionID); err != nil {
			return err
		}
		c.mu.Lock()
		if t, ok := c.tasks[sessionID]; ok {
			t.Status = StatusCompleted
		}
		c.mu.Unlock()
		c.hub.Publish(broadcast.Event{
			Type:      EventTaskStatus,
			SessionID: sessionID,
			Data:      map[string]any{"status": StatusCompleted},
		})
		return nil
	case DecisionEscalate:
		if c.metrics != nil {
			c.metrics.Escalations.WithLabelValues("model_decision").Inc()
		}
		c.hub.Publish(broadcast.Event{
			Type:      EventEscalation,
			SessionID: sessionID,
			Data:      map[string]any{"reasoning": dec.Reasoning},
		})
		c.notifyHuman("session %s escalated: %s", sessionID, dec.Reasoning)
		return nil
	case DecisionIgnore:
		return nil
	default:
		return fmt.Errorf("unknown decision action %q", dec.Action)
	}
}

// recordExecuted appends the decision record after execution. human marks
// decisions that went through an explicit approval; only unattended
// resolutions count against the auto-resolution ceiling.
func (c *Coordinator) recordExecuted(sessionID, event, promptText string, dec LLMDecision, human bool) {
	now := time.Now().UTC()
	record := Decision{
		Timestamp:  now,
		Event:      event,
		PromptText: promptText,
		Kind:       dec.Action,
		Response:   dec.Response,
		Keys:       dec.Keys,
		Reasoning:  dec.Reasoning,
	}

	c.mu.Lock()
	t, ok := c.tasks[sessionID]
	if ok {
		c.appendDecisionLocked(t, record)
		if !human && (dec.Action == DecisionRespond || dec.Action == DecisionComplete) {
			t.AutoResolvedCount++
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.hub.Publish(broadcast.Event{
		Type:      EventDecisionExecuted,
		SessionID: sessionID,
		Data:      record,
	})
}

// escalate records an escalation decision (unless recordDecision is false)
// and always notifies a human.
func (c *Coordinator) escalate(sessionID, event, promptText, reasoning, reason string, recordDecision bool) {
	now := time.Now().UTC()

	if recordDecision {
		c.mu.Lock()
		if t, ok := c.tasks[sessionID]; ok {
			c.appendDecisionLocked(t, Decision{
				Timestamp:  now,
				Event:      event,
				PromptText: promptText,
				Kind:       DecisionEscalate,
				Reasoning:  reasoning,
			})
		}
		c.mu.Unlock()
	}

	if c.metrics != nil {
		c.metrics.Escalations.WithLabelValues(reason).Inc()
	}
	c.hub.Publish(broadcast.Event{
		Type:      EventEscalation,
		SessionID: sessionID,
		Data:      map[string]any{"reasoning": reasoning, "reason": reason},
	})
	c.notifyHuman("session %s needs attention: %s", sessionID, reasoning)
}

func (c *Coordinator) enqueueConfirmation(sessionID, event, promptText string, dec LLMDecision) {
	p := &PendingConfirmation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Event:       event,
		PromptText:  promptText,
		LLMDecision: dec,
		CreatedAt:   time.Now().UTC(),
	}

	c.mu.Lock()
	if t, ok := c.tasks[sessionID]; ok {
		p.Task = t.TaskMeta
	}
	c.pending[sessionID] = p
	c.mu.Unlock()

	c.hub.Publish(broadcast.Event{
		Type:      EventConfirmationPending,
		SessionID: sessionID,
		Data:      p,
	})
	c.notifyHuman("session %s suggests %q and awaits confirmation", sessionID, p.LLMDecision.Action)
}

func (c *Coordinator) clearInflight(sessionID string) {
	c.mu.Lock()
	delete(c.inflight, sessionID)
	c.mu.Unlock()
}

// recentOutput fetches the session's recent terminal output. ok is false
// when the fetch failed; callers must not treat that as fresh output.
func (c *Coordinator) recentOutput(sessionID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.manager.Output(ctx, sessionID, c.cfg.OutputLines)
	if err != nil {
		log.Printf("coordinator: fetch output for %s failed: %v", sessionID, err)
		return "", false
	}
	return out, true
}

func (c *Coordinator) notifyHuman(format string, args ...any) {
	c.mu.Lock()
	n := c.notify
	c.mu.Unlock()
	n(format, args...)
}

func buildBlockedPrompt(t *TaskContext, promptText, recentOutput string) string {
	var b strings.Builder
	b.WriteString("You supervise an autonomous coding agent session that is blocked on a prompt.\n\n")
	writeTaskHeader(&b, t)
	fmt.Fprintf(&b, "The session is waiting on:\n%s\n\n", promptText)
	writeDecisionHistory(&b, t)
	if recentOutput != "" {
		fmt.Fprintf(&b, "Recent terminal output:\n%s\n\n", recentOutput)
	}
	b.WriteString("Decide what to do. Reply with a single JSON object, nothing else:\n")
	b.WriteString(`{"action":"respond|escalate|complete|ignore","response":"text to type","useKeys":false,"keys":["Enter"],"reasoning":"why"}` + "\n")
	b.WriteString("Use \"respond\" to answer the prompt, \"escalate\" when a human must look, ")
	b.WriteString("\"complete\" when the task is finished, \"ignore\" when no action is needed.\n")
	return b.String()
}

func buildIdlePrompt(t *TaskContext, recentOutput string, idleFor time.Duration, checkCount, checkLimit int) string {
	var b strings.Builder
	b.WriteString("You supervise an autonomous coding agent session that has produced no new output.\n\n")
	writeTaskHeader(&b, t)
	fmt.Fprintf(&b, "Idle for %s; idle check %d of %d before forced escalation.\n\n",
		idleFor.Round(time.Second), checkCount, checkLimit)
	writeDecisionHistory(&b, t)
	if recentOutput != "" {
		fmt.Fprintf(&b, "Recent terminal output:\n%s\n\n", recentOutput)
	}
	b.WriteString("Is the session stuck, finished, or still working? Reply with a single JSON object, nothing else:\n")
	b.WriteString(`{"action":"respond|escalate|complete|ignore","response":"text to type","useKeys":false,"keys":["Enter"],"reasoning":"why"}` + "\n")
	b.WriteString("Use \"ignore\" when the session is still working and should be left alone.\n")
	return b.String()
}

func writeTaskHeader(b *strings.Builder, t *TaskContext) {
	fmt.Fprintf(b, "Session: %s (%s)\n", t.SessionID, t.AgentType)
	if t.Label != "" {
		fmt.Fprintf(b, "Label: %s\n", t.Label)
	}
	if t.Workdir != "" {
		fmt.Fprintf(b, "Workdir: %s\n", t.Workdir)
	}
	if t.OriginalTask != "" {
		fmt.Fprintf(b, "Task: %s\n", t.OriginalTask)
	}
	b.WriteString("\n")
}

// writeDecisionHistory appends the last few decisions, skipping
// auto-resolved noise so the model sees the judgement calls.
func writeDecisionHistory(b *strings.Builder, t *TaskContext) {
	const historyLimit = 5
	var picked []Decision
	for i := len(t.Decisions) - 1; i >= 0 && len(picked) < historyLimit; i-- {
		if t.Decisions[i].Kind == DecisionAutoResolved {
			continue
		}
		picked = append(picked, t.Decisions[i])
	}
	if len(picked) == 0 {
		return
	}
	b.WriteString("Previous decisions (newest first):\n")
	for _, d := range picked {
		fmt.Fprintf(b, "- [%s] %s: %s\n", d.Event, d.Kind, d.Reasoning)
	}
	b.WriteString("\n")
}
