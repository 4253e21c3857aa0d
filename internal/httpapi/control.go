package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/swarmlab/overseer/internal/coordinator"
)

type registerTaskRequest struct {
	SessionID    string `json:"sessionId"`
	AgentType    string `json:"agentType"`
	Label        string `json:"label"`
	OriginalTask string `json:"originalTask"`
	Workdir      string `json:"workdir"`
}

type taskSummary struct {
	SessionID         string             `json:"sessionId"`
	AgentType         string             `json:"agentType"`
	Label             string             `json:"label"`
	Status            coordinator.Status `json:"status"`
	DecisionCount     int                `json:"decisionCount"`
	AutoResolvedCount int                `json:"autoResolvedCount"`
	RegisteredAt      time.Time          `json:"registeredAt"`
	LastActivityAt    time.Time          `json:"lastActivityAt"`
}

type statusResponse struct {
	SupervisionLevel coordinator.SupervisionLevel `json:"supervisionLevel"`
	TaskCount        int                          `json:"taskCount"`
	Tasks            []taskSummary                `json:"tasks"`
}

type pendingEntry struct {
	*coordinator.PendingConfirmation
	SuggestedAction coordinator.DecisionKind `json:"suggestedAction"`
}

type confirmRequest struct {
	Approved *bool                 `json:"approved"`
	Override *coordinator.Override `json:"override"`
}

type supervisionRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}

	tasks := s.coordinator.AllTaskSnapshots()
	out := statusResponse{
		SupervisionLevel: s.coordinator.Supervision(),
		TaskCount:        len(tasks),
		Tasks:            make([]taskSummary, 0, len(tasks)),
	}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, taskSummary{
			SessionID:         t.SessionID,
			AgentType:         t.AgentType,
			Label:             t.Label,
			Status:            t.Status,
			DecisionCount:     len(t.Decisions),
			AutoResolvedCount: t.AutoResolvedCount,
			RegisteredAt:      t.RegisteredAt,
			LastActivityAt:    t.LastActivityAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}

	var req registerTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sessionId is required")
		return
	}

	err := s.coordinator.RegisterTask(req.SessionID, coordinator.TaskMeta{
		AgentType:    strings.TrimSpace(req.AgentType),
		Label:        strings.TrimSpace(req.Label),
		OriginalTask: strings.TrimSpace(req.OriginalTask),
		Workdir:      strings.TrimSpace(req.Workdir),
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrAlreadyRegistered) {
			respondError(w, http.StatusConflict, "already_registered", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "register_failed", err.Error())
		return
	}

	t, err := s.coordinator.TaskSnapshot(req.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "register_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	t, err := s.coordinator.TaskSnapshot(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}

	pending := s.coordinator.PendingConfirmations()
	out := make([]pendingEntry, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingEntry{
			PendingConfirmation: p,
			SuggestedAction:     p.LLMDecision.Action,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Approved == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "approved is required")
		return
	}

	if err := s.coordinator.ConfirmDecision(sessionID, *req.Approved, req.Override); err != nil {
		if errors.Is(err, coordinator.ErrNoPendingDecision) {
			respondError(w, http.StatusNotFound, "no_pending_decision", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "confirm_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"approved": *req.Approved})
}

func (s *Server) handleGetSupervision(w http.ResponseWriter, _ *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"level": s.coordinator.Supervision()})
}

func (s *Server) handleSetSupervision(w http.ResponseWriter, r *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}

	var req supervisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	level, err := s.coordinator.SetSupervision(req.Level)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_supervision_level", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"level": level})
}
