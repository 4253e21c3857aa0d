package coordinator

import (
	"fmt"
	"sort"

	"github.com/swarmlab/overseer/internal/broadcast"
)

// PendingConfirmations lists every decision awaiting a human verdict,
// oldest first.
func (c *Coordinator) PendingConfirmations() []*PendingConfirmation {
	c.mu.Lock()
	out := make([]*PendingConfirmation, 0, len(c.pending))
	for _, p := range c.pending {
		cp := *p
		out = append(out, &cp)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ConfirmDecision resolves a queued decision. Reject removes the entry and
// sends nothing; approve optionally patches the payload, then runs the same
// execution primitive as autonomous mode.
func (c *Coordinator) ConfirmDecision(sessionID string, approved bool, override *Override) error {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPendingDecision, sessionID)
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	c.hub.Publish(broadcast.Event{
		Type:      EventConfirmationResolved,
		SessionID: sessionID,
		Data:      map[string]any{"approved": approved, "id": p.ID},
	})

	if !approved {
		return nil
	}

	dec := p.LLMDecision
	if override != nil {
		if override.Response != "" {
			dec.Response = override.Response
			dec.UseKeys = false
			dec.Keys = nil
		}
		if len(override.Keys) > 0 {
			dec.Keys = append([]string(nil), override.Keys...)
			dec.UseKeys = true
			dec.Response = ""
		}
	}

	if err := c.executeDecision(sessionID, dec); err != nil {
		c.escalate(sessionID, p.Event, p.PromptText,
			fmt.Sprintf("approved decision failed to execute: %v", err), "execution_failure", true)
		return err
	}
	c.recordExecuted(sessionID, p.Event, p.PromptText, dec, true)
	return nil
}

// Supervision returns the current process-wide supervision level.
func (c *Coordinator) Supervision() SupervisionLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supervision
}

// SetSupervision updates the supervision level after validation and
// broadcasts the change.
func (c *Coordinator) SetSupervision(raw string) (SupervisionLevel, error) {
	level, err := ParseSupervisionLevel(raw)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.supervision = level
	c.mu.Unlock()

	c.hub.Publish(broadcast.Event{
		Type: EventSupervisionChanged,
		Data: map[string]any{"level": level},
	})
	return level, nil
}
