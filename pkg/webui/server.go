// Package webui exposes the HTTP and WebSocket surface: task submission,
// the two approval gates, rollback and revert, and the monitoring
// endpoints.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/gitops"
	"vocalcommit/pkg/logx"
	"vocalcommit/pkg/metrics"
	"vocalcommit/pkg/workflow"
)

// Reverter can undo an already-pushed commit with a forward revert.
// Implemented by gitops.RemoteRepo; absent in local-only mode.
type Reverter interface {
	Revert(ctx context.Context) (*gitops.CommitRecord, error)
}

// Server is the web UI HTTP server.
type Server struct {
	orch     *workflow.Orchestrator
	repo     gitops.Repo
	reverter Reverter
	logger   *logx.Logger
}

// NewServer creates a server. reverter may be nil when no remote is
// configured.
func NewServer(orch *workflow.Orchestrator, repo gitops.Repo, reverter Reverter) *Server {
	return &Server{
		orch:     orch,
		repo:     repo,
		reverter: reverter,
		logger:   logx.NewLogger("webui"),
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/get", s.handleTaskGet)
	mux.HandleFunc("/api/tasks/approve", s.handleApprove)
	mux.HandleFunc("/api/tasks/reject", s.handleReject)
	mux.HandleFunc("/api/tasks/push", s.handlePush)
	mux.HandleFunc("/api/tasks/rollback", s.handleRollback)
	mux.HandleFunc("/api/suspended/clear", s.handleClearSuspended)
	mux.HandleFunc("/api/rate-status", s.handleRateStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/revert", s.handleRevert)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// writeError maps workflow and gateway errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicate), errors.Is(err, workflow.ErrAlreadyPushed),
		errors.Is(err, workflow.ErrNotHeadCommit):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrSuspended):
		status = http.StatusLocked
	case errors.Is(err, gitops.ErrForeignCommit):
		status = http.StatusConflict
	case gateway.IsRateLimit(err):
		status = http.StatusTooManyRequests
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// submitRequest is the POST /api/tasks body.
type submitRequest struct {
	Transcript string `json:"transcript"`
	UIEditing  bool   `json:"ui_editing"`
}

// handleTasks implements POST /api/tasks (submit) and GET /api/tasks
// (list).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := workflow.Status(r.URL.Query().Get("status"))
		s.writeJSON(w, http.StatusOK, map[string]any{"tasks": s.orch.List(status)})

	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Transcript == "" {
			http.Error(w, "transcript is required", http.StatusBadRequest)
			return
		}
		task, err := s.orch.Submit(r.Context(), req.Transcript, req.UIEditing)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, task)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// taskID extracts the required id query parameter.
func taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id parameter is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.orch.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.orch.Approve(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.orch.Reject(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.orch.ApprovePush(r.Context(), id)
	if err != nil {
		// The task snapshot still matters on push failure: it shows the
		// commit is intact locally.
		if task != nil {
			s.writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "task": task})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	task, err := s.orch.RollbackTask(r.Context(), id, hard)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleClearSuspended(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": s.orch.ClearSuspended()})
}

func (s *Server) handleRateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	remaining, maxReqs, resetIn := s.orch.RateStatus()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"remaining_requests": remaining,
		"max_requests":       maxReqs,
		"reset_in_seconds":   int(resetIn.Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	commits, err := s.repo.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reverter == nil {
		http.Error(w, "No remote configured, revert unavailable", http.StatusNotImplemented)
		return
	}
	rec, err := s.reverter.Revert(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reverted": rec})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	component := query.Get("component")

	var since time.Time
	if v := query.Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	entries := logx.GetRecentLogEntries(component, since)
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
