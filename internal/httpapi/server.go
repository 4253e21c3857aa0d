package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/swarmlab/overseer/internal/config"
	"github.com/swarmlab/overseer/internal/coordinator"
	"github.com/swarmlab/overseer/internal/observability"
)

type Server struct {
	cfg         config.Config
	coordinator *coordinator.Coordinator
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, coord *coordinator.Coordinator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		coordinator: coord,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin, in case the overseer is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/coordinator", func(cr chi.Router) {
		cr.Get("/events", s.handleEvents)
		cr.Get("/status", s.handleStatus)
		cr.Post("/tasks", s.handleRegisterTask)
		cr.Get("/tasks/{sessionId}", s.handleGetTask)
		cr.Get("/pending", s.handleListPending)
		cr.Post("/confirm/{sessionId}", s.handleConfirm)
		cr.Get("/supervision", s.handleGetSupervision)
		cr.Post("/supervision", s.handleSetSupervision)
		cr.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "not_found", "unknown coordinator endpoint")
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"coordinator_wired": s.coordinator != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.coordinator == nil {
		respondError(w, http.StatusServiceUnavailable, "coordinator_unavailable", "coordinator is not wired up")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// requireCoordinator writes the 503 error body when the coordinator is not
// wired. Every /v1/coordinator handler starts with this guard.
func (s *Server) requireCoordinator(w http.ResponseWriter) bool {
	if s.coordinator == nil {
		respondError(w, http.StatusServiceUnavailable, "coordinator_unavailable", "coordinator is not wired up")
		return false
	}
	return true
}

// handleEvents upgrades to a websocket and streams broadcast events to the
// observer, starting with the state snapshot the hub delivers on attach.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireCoordinator(w) {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, detach := s.coordinator.Hub().Attach()
	defer detach()

	if s.metrics != nil {
		s.metrics.Observers.Set(float64(s.coordinator.Hub().ObserverCount()))
		defer func() {
			s.metrics.Observers.Set(float64(s.coordinator.Hub().ObserverCount()))
		}()
	}

	// Reader goroutine exists only to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
