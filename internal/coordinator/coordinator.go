// Package coordinator is the supervisory core of the swarm: it tracks every
// agent session, decides what to do when one blocks or goes idle, and keeps
// humans in the loop according to the configured supervision level.
//
// All mutable state (task registry, event buffer, confirmation queue,
// supervision setting, in-flight markers) lives behind one mutex so that
// per-session invariants hold; the only slow operations (model calls and
// session I/O) run outside it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/swarmlab/overseer/internal/agents"
	"github.com/swarmlab/overseer/internal/broadcast"
	"github.com/swarmlab/overseer/internal/llm"
	"github.com/swarmlab/overseer/internal/observability"
	"github.com/swarmlab/overseer/internal/store"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrAlreadyRegistered = errors.New("session already registered")
	// The message is part of the operator-facing contract.
	ErrNoPendingDecision = errors.New("No pending decision for this session")
)

// Notifier delivers human-facing escalation messages (chat relay, log, ...).
type Notifier func(format string, args ...any)

// Config carries the coordination policy knobs.
type Config struct {
	AutoResolveLimit int
	IdleCheckLimit   int
	IdleThreshold    time.Duration
	DecisionTimeout  time.Duration
	EventBufferCap   int
	OutputLines      int
	Supervision      SupervisionLevel
}

func (c *Config) applyDefaults() {
	if c.AutoResolveLimit <= 0 {
		c.AutoResolveLimit = 10
	}
	if c.IdleCheckLimit <= 0 {
		c.IdleCheckLimit = 3
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 3 * time.Minute
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 45 * time.Second
	}
	if c.EventBufferCap <= 0 {
		c.EventBufferCap = 256
	}
	if c.OutputLines <= 0 {
		c.OutputLines = 60
	}
	if c.Supervision == "" {
		c.Supervision = SupervisionAutonomous
	}
}

type bufferedEvent struct {
	Event   string
	Payload map[string]any
}

// Coordinator owns all task state and the decision pipeline.
type Coordinator struct {
	cfg     Config
	manager agents.Manager
	brain   llm.Adapter
	metrics *observability.Metrics
	store   store.Store
	hub     *broadcast.Hub

	mu          sync.Mutex
	tasks       map[string]*TaskContext
	buffered    map[string][]bufferedEvent
	bufferedLen int
	pending     map[string]*PendingConfirmation
	inflight    map[string]bool
	lastOutput  map[string]string
	supervision SupervisionLevel
	notify      Notifier

	// Tracks spawned decision goroutines so Stop (and tests) can drain them.
	decisionWG sync.WaitGroup
}

func New(cfg Config, manager agents.Manager, brain llm.Adapter, metrics *observability.Metrics, st store.Store) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		cfg:         cfg,
		manager:     manager,
		brain:       brain,
		metrics:     metrics,
		store:       st,
		tasks:       make(map[string]*TaskContext),
		buffered:    make(map[string][]bufferedEvent),
		pending:     make(map[string]*PendingConfirmation),
		inflight:    make(map[string]bool),
		lastOutput:  make(map[string]string),
		supervision: cfg.Supervision,
		notify:      log.Printf,
	}
	c.hub = broadcast.NewHub(c.snapshot)
	return c
}

// SetNotifier replaces the default log-based escalation notifier.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n != nil {
		c.notify = n
	}
}

// Hub exposes the broadcast hub for observer attachment.
func (c *Coordinator) Hub() *broadcast.Hub { return c.hub }

// Stop drains in-flight decisions and detaches all observers. Task contexts
// and pending confirmations are left in place as inert state.
func (c *Coordinator) Stop() {
	c.decisionWG.Wait()
	c.hub.Close()
}

// RegisterTask creates the context for a new session and replays any events
// that arrived before registration, in their original order.
func (c *Coordinator) RegisterTask(sessionID string, meta TaskMeta) error {
	now := time.Now().UTC()

	c.mu.Lock()
	if _, exists := c.tasks[sessionID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, sessionID)
	}
	t := &TaskContext{
		SessionID:      sessionID,
		TaskMeta:       meta,
		Status:         StatusActive,
		Decisions:      []Decision{},
		RegisteredAt:   now,
		LastActivityAt: now,
	}
	c.tasks[sessionID] = t
	replay := c.buffered[sessionID]
	if len(replay) > 0 {
		c.bufferedLen -= len(replay)
		delete(c.buffered, sessionID)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveTasks.Set(float64(c.activeCount()))
		c.metrics.BufferedEvents.Set(float64(c.bufferedCount()))
	}
	c.hub.Publish(broadcast.Event{
		Type:      EventTaskRegistered,
		SessionID: sessionID,
		Data:      t.clone(),
	})

	for _, evt := range replay {
		c.HandleSessionEvent(sessionID, evt.Event, evt.Payload)
	}
	return nil
}

// HandleSessionEvent is the single entry point for session manager events.
// Events for unregistered sessions are buffered (bounded, drop-oldest);
// registered sessions are updated and dispatched by event name.
func (c *Coordinator) HandleSessionEvent(sessionID, event string, payload map[string]any) {
	now := time.Now().UTC()

	c.mu.Lock()
	t, ok := c.tasks[sessionID]
	if !ok {
		buf := append(c.buffered[sessionID], bufferedEvent{Event: event, Payload: payload})
		c.bufferedLen++
		if len(buf) > c.cfg.EventBufferCap {
			buf = append([]bufferedEvent(nil), buf[1:]...)
			c.bufferedLen--
		}
		c.buffered[sessionID] = buf
		buffered := c.bufferedLen
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.BufferedEvents.Set(float64(buffered))
		}
		return
	}

	t.LastActivityAt = now
	t.IdleCheckCount = 0

	var (
		publish    []broadcast.Event
		startBlock bool
		prompt     string
	)

	switch event {
	case eventTaskComplete:
		t.Status = StatusCompleted
		publish = append(publish, c.statusEvent(t))
	case eventError:
		t.Status = StatusError
		publish = append(publish, c.statusEvent(t))
	case eventStopped:
		t.Status = StatusStopped
		publish = append(publish, c.statusEvent(t))
	case eventBlocked:
		prompt = stringField(payload, "prompt")
		if boolField(payload, "autoResponded") {
			dec := Decision{
				Timestamp:  now,
				Event:      eventBlocked,
				PromptText: prompt,
				Kind:       DecisionAutoResolved,
				Response:   stringField(payload, "response"),
				Reasoning:  "prompt auto-answered by the session's responder",
			}
			c.appendDecisionLocked(t, dec)
			t.AutoResolvedCount++
			publish = append(publish, broadcast.Event{
				Type:      EventBlockedAutoResolved,
				SessionID: sessionID,
				Data:      dec,
			})
		} else {
			startBlock = true
		}
	default:
		publish = append(publish, broadcast.Event{
			Type:      event,
			SessionID: sessionID,
			Data:      payload,
		})
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(event).Inc()
		c.metrics.ActiveTasks.Set(float64(c.activeCount()))
	}
	for _, evt := range publish {
		c.hub.Publish(evt)
	}
	if startBlock {
		c.startBlockedDecision(sessionID, prompt)
	}
}

// TaskSnapshot returns a read-only copy of one task context.
func (c *Coordinator) TaskSnapshot(sessionID string) (*TaskContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[sessionID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.clone(), nil
}

// AllTaskSnapshots returns read-only copies of every task context, ordered
// by registration time.
func (c *Coordinator) AllTaskSnapshots() []*TaskContext {
	c.mu.Lock()
	out := make([]*TaskContext, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

type snapshotData struct {
	SupervisionLevel SupervisionLevel `json:"supervisionLevel"`
	Tasks            []*TaskContext   `json:"tasks"`
}

func (c *Coordinator) snapshot() any {
	return snapshotData{
		SupervisionLevel: c.Supervision(),
		Tasks:            c.AllTaskSnapshots(),
	}
}

func (c *Coordinator) statusEvent(t *TaskContext) broadcast.Event {
	return broadcast.Event{
		Type:      EventTaskStatus,
		SessionID: t.SessionID,
		Data:      map[string]any{"status": t.Status},
	}
}

func (c *Coordinator) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if t.Status == StatusActive {
			n++
		}
	}
	return n
}

func (c *Coordinator) bufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferedLen
}

// appendDecisionLocked records a decision on the task and persists it best
// effort. Callers hold c.mu.
func (c *Coordinator) appendDecisionLocked(t *TaskContext, dec Decision) {
	t.Decisions = append(t.Decisions, dec)
	if c.metrics != nil {
		c.metrics.Decisions.WithLabelValues(string(dec.Kind)).Inc()
	}
	if c.store != nil {
		rec := store.DecisionRecord{
			SessionID: t.SessionID,
			Event:     dec.Event,
			Prompt:    dec.PromptText,
			Kind:      string(dec.Kind),
			Response:  dec.Response,
			Keys:      dec.Keys,
			Reasoning: dec.Reasoning,
			CreatedAt: dec.Timestamp,
		}
		st := c.store
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.SaveDecision(ctx, rec); err != nil {
				log.Printf("coordinator: persist decision failed: %v", err)
			}
		}()
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func boolField(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return false
}
