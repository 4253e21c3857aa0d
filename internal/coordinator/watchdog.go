package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/swarmlab/overseer/internal/broadcast"
)

// StartWatchdog launches the periodic idle scanner. The scan interval
// normally matches the idle threshold.
func (c *Coordinator) StartWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.cfg.IdleThreshold
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.scanIdle()
			}
		}
	}()
}

// scanIdle picks every active session that has been quiet past the
// threshold and has no decision in flight, then checks each concurrently.
// Sessions are independent; one stuck check never delays the others.
func (c *Coordinator) scanIdle() {
	now := time.Now().UTC()

	c.mu.Lock()
	var candidates []*TaskContext
	level := c.supervision
	for id, t := range c.tasks {
		if t.Status != StatusActive {
			continue
		}
		if now.Sub(t.LastActivityAt) < c.cfg.IdleThreshold {
			continue
		}
		if c.inflight[id] || c.pending[id] != nil {
			continue
		}
		c.inflight[id] = true
		candidates = append(candidates, t.clone())
	}
	c.mu.Unlock()

	for _, t := range candidates {
		snapshot := t
		c.decisionWG.Add(1)
		go func() {
			defer c.decisionWG.Done()
			defer c.clearInflight(snapshot.SessionID)
			c.checkIdleSession(snapshot, level)
		}()
	}
}

func (c *Coordinator) checkIdleSession(t *TaskContext, level SupervisionLevel) {
	sessionID := t.SessionID
	now := time.Now().UTC()
	output, outputOK := c.recentOutput(sessionID)

	c.mu.Lock()
	live, ok := c.tasks[sessionID]
	if !ok || live.Status != StatusActive {
		c.mu.Unlock()
		return
	}
	idleFor := now.Sub(live.LastActivityAt)
	if outputOK && output != c.lastOutput[sessionID] {
		// Fresh output means the session is not actually idle, whatever the
		// event stream says.
		c.lastOutput[sessionID] = output
		live.LastActivityAt = now
		live.IdleCheckCount = 0
		c.mu.Unlock()
		return
	}
	live.IdleCheckCount++
	checkCount := live.IdleCheckCount
	c.mu.Unlock()

	// Hard stop independent of supervision level: a session that survived
	// this many idle cycles will not be rescued by another model call.
	if checkCount > c.cfg.IdleCheckLimit {
		c.escalate(sessionID, idleWatchdogEvent, "",
			fmt.Sprintf("no output for %s across %d idle checks (limit %d)",
				idleFor.Round(time.Second), checkCount, c.cfg.IdleCheckLimit),
			"idle_ceiling", true)
		return
	}

	if level == SupervisionNotify {
		c.hub.Publish(broadcast.Event{
			Type:      EventIdleCheck,
			SessionID: sessionID,
			Data:      map[string]any{"idleFor": idleFor.String(), "checkCount": checkCount},
		})
		return
	}

	prompt := buildIdlePrompt(t, output, idleFor, checkCount, c.cfg.IdleCheckLimit)
	raw, err := c.invokeModel(prompt)
	if err != nil {
		// Intentionally records no decision: this failure path only notifies.
		c.escalate(sessionID, idleWatchdogEvent, "",
			"couldn't determine session status: model call failed", "model_failure", false)
		return
	}
	dec := parseLLMDecision(raw)
	if dec == nil {
		log.Printf("coordinator: unparseable idle assessment for %s: %.200s", sessionID, raw)
		if c.metrics != nil {
			c.metrics.LLMErrors.Inc()
		}
		c.escalate(sessionID, idleWatchdogEvent, "",
			"couldn't determine session status: unusable model output", "model_failure", false)
		return
	}

	if dec.Action == DecisionIgnore {
		// Still working: leave the session alone and record nothing.
		log.Printf("coordinator: session %s still working (idle check %d): %s",
			sessionID, checkCount, dec.Reasoning)
		return
	}
	c.dispatchDecision(sessionID, idleWatchdogEvent, "", *dec, level)
}
