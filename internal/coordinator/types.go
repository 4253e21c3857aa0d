package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

type SupervisionLevel string

const (
	SupervisionAutonomous SupervisionLevel = "autonomous"
	SupervisionConfirm    SupervisionLevel = "confirm"
	SupervisionNotify     SupervisionLevel = "notify"
)

// ParseSupervisionLevel validates an operator-supplied level.
func ParseSupervisionLevel(raw string) (SupervisionLevel, error) {
	switch SupervisionLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case SupervisionAutonomous:
		return SupervisionAutonomous, nil
	case SupervisionConfirm:
		return SupervisionConfirm, nil
	case SupervisionNotify:
		return SupervisionNotify, nil
	default:
		return "", fmt.Errorf("invalid supervision level %q", raw)
	}
}

type DecisionKind string

const (
	DecisionRespond      DecisionKind = "respond"
	DecisionEscalate     DecisionKind = "escalate"
	DecisionAutoResolved DecisionKind = "auto_resolved"
	DecisionIgnore       DecisionKind = "ignore"
	DecisionComplete     DecisionKind = "complete"
)

// Event name for decisions produced by the idle scanner rather than a
// session event.
const idleWatchdogEvent = "idle_watchdog"

// Session event names consumed from the session manager.
const (
	eventBlocked      = "blocked"
	eventTaskComplete = "task_complete"
	eventError        = "error"
	eventStopped      = "stopped"
)

// Broadcast event types.
const (
	EventTaskRegistered       = "task_registered"
	EventTaskStatus           = "task_status"
	EventBlockedAutoResolved  = "blocked_auto_resolved"
	EventDecisionExecuted     = "decision_executed"
	EventConfirmationPending  = "confirmation_pending"
	EventConfirmationResolved = "confirmation_resolved"
	EventEscalation           = "escalation"
	EventIdleCheck            = "idle_check"
	EventSupervisionChanged   = "supervision_changed"
)

// TaskMeta is the immutable descriptive metadata set at registration.
type TaskMeta struct {
	AgentType    string `json:"agentType"`
	Label        string `json:"label"`
	OriginalTask string `json:"originalTask"`
	Workdir      string `json:"workdir"`
}

// Decision is one immutable record appended to a task context.
type Decision struct {
	Timestamp  time.Time    `json:"timestamp"`
	Event      string       `json:"event"`
	PromptText string       `json:"promptText,omitempty"`
	Kind       DecisionKind `json:"decision"`
	Response   string       `json:"response,omitempty"`
	Keys       []string     `json:"keys,omitempty"`
	Reasoning  string       `json:"reasoning,omitempty"`
}

// TaskContext tracks one supervised session. Contexts accumulate until
// process exit; there is no eviction.
type TaskContext struct {
	SessionID string `json:"sessionId"`
	TaskMeta
	Status            Status     `json:"status"`
	Decisions         []Decision `json:"decisions"`
	AutoResolvedCount int        `json:"autoResolvedCount"`
	RegisteredAt      time.Time  `json:"registeredAt"`
	LastActivityAt    time.Time  `json:"lastActivityAt"`
	IdleCheckCount    int        `json:"idleCheckCount"`
}

func (t *TaskContext) clone() *TaskContext {
	c := *t
	if t.Decisions != nil {
		c.Decisions = make([]Decision, len(t.Decisions))
		copy(c.Decisions, t.Decisions)
	}
	return &c
}

// LLMDecision is the parsed output of a coordination model call.
type LLMDecision struct {
	Action    DecisionKind `json:"action"`
	Response  string       `json:"response,omitempty"`
	UseKeys   bool         `json:"useKeys,omitempty"`
	Keys      []string     `json:"keys,omitempty"`
	Reasoning string       `json:"reasoning,omitempty"`
}

// PendingConfirmation holds one decision awaiting a human verdict.
type PendingConfirmation struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Event       string      `json:"event"`
	PromptText  string      `json:"promptText"`
	LLMDecision LLMDecision `json:"llmDecision"`
	Task        TaskMeta    `json:"task"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Override patches a queued decision's payload at approval time.
type Override struct {
	Response string   `json:"response,omitempty"`
	Keys     []string `json:"keys,omitempty"`
}

// parseLLMDecision turns raw model output into a typed decision. It returns
// nil for anything that is not a well-formed decision object; nil means
// "cannot decide" and is handled by the caller, never an error to throw.
func parseLLMDecision(raw string) *LLMDecision {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	// Models love fencing their JSON. Take the outermost object either way.
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}

	var dec LLMDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &dec); err != nil {
		return nil
	}

	switch dec.Action {
	case DecisionRespond:
		if dec.UseKeys {
			if len(dec.Keys) == 0 {
				return nil
			}
		} else if dec.Response == "" {
			return nil
		}
	case DecisionEscalate, DecisionComplete, DecisionIgnore:
	default:
		return nil
	}
	return &dec
}
