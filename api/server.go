package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rom8726/stepflow"
)

type Server struct {
	api     *APIService
	engine  stepflow.IEngine
	plugins []Plugin
}

func NewServer(store Store, engine stepflow.IEngine, plugins ...Plugin) *Server {
	return &Server{
		api:     NewAPIService(store),
		engine:  engine,
		plugins: plugins,
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Executions
	mux.HandleFunc("GET /api/executions", s.HandleGetExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.HandleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/approvals", s.HandleGetExecutionApprovals)

	// External signals
	mux.HandleFunc("POST /api/executions/{id}/approvals", s.HandleSubmitApproval)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.HandleCancelExecution)

	// Workflow definitions
	mux.HandleFunc("GET /api/workflows/{id}", s.HandleGetWorkflow)

	// Statistics
	mux.HandleFunc("GET /api/stats", s.HandleGetStats)

	for _, plugin := range s.plugins {
		plugin.RegisterRoutes(mux)
	}

	return mux
}

func (s *Server) HandleGetExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := stepflow.ExecutionStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)

			return
		}
		limit = parsed
	}

	executions, err := s.api.GetExecutions(ctx, status, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch executions: %v", err), http.StatusInternalServerError)

		return
	}
	if executions == nil {
		executions = []*stepflow.WorkflowExecution{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(executions)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	execution, err := s.api.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, stepflow.ErrExecutionNotFound) {
			http.Error(w, "Execution not found", http.StatusNotFound)

			return
		}
		http.Error(w, fmt.Sprintf("Failed to fetch execution: %v", err), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(execution)
}

func (s *Server) HandleGetExecutionApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	approvals, err := s.api.GetExecutionApprovals(ctx, id)
	if err != nil {
		if errors.Is(err, stepflow.ErrExecutionNotFound) {
			http.Error(w, "Execution not found", http.StatusNotFound)

			return
		}
		http.Error(w, fmt.Sprintf("Failed to fetch approvals: %v", err), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(approvals)
}

func (s *Server) HandleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req SubmitApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)

		return
	}
	if req.StepID == "" || req.UserID == "" {
		WriteErrorResponse(w, errors.New("step_id and user_id are required"), http.StatusBadRequest)

		return
	}

	err := s.engine.SubmitApproval(ctx, id, req.StepID, req.UserID, req.Approved, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, stepflow.ErrExecutionNotFound),
			errors.Is(err, stepflow.ErrApprovalNotFound):
			WriteErrorResponse(w, err, http.StatusNotFound)
		case errors.Is(err, stepflow.ErrExecutionFinished):
			WriteErrorResponse(w, err, http.StatusConflict)
		default:
			WriteErrorResponse(w, err, http.StatusInternalServerError)
		}

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{Status: "accepted"})
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req CancelExecutionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteErrorResponse(w, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)

			return
		}
	}

	err := s.engine.CancelExecution(ctx, id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, stepflow.ErrExecutionNotFound):
			WriteErrorResponse(w, err, http.StatusNotFound)
		case errors.Is(err, stepflow.ErrExecutionFinished):
			WriteErrorResponse(w, err, http.StatusConflict)
		default:
			WriteErrorResponse(w, err, http.StatusInternalServerError)
		}

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{Status: "cancelled"})
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	workflow, err := s.api.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, stepflow.ErrWorkflowNotFound) {
			http.Error(w, "Workflow not found", http.StatusNotFound)

			return
		}
		http.Error(w, fmt.Sprintf("Failed to fetch workflow: %v", err), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(workflow)
}

func (s *Server) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.api.GetStats(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch stats: %v", err), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
