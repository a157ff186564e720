package httpapi

import (
	"fmt"
	"net/http"

	"github.com/eleven-am/regiflow/internal/domain"
)

type workflowSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Active      bool     `json:"active"`
	Version     int64    `json:"version"`
	Tags        []string `json:"tags,omitempty"`
	Trigger     string   `json:"trigger,omitempty"`
	Nodes       int      `json:"nodes"`
}

func summarize(def *domain.WorkflowDefinition) workflowSummary {
	summary := workflowSummary{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Active:      def.Active,
		Version:     def.Version,
		Tags:        def.Tags,
		Nodes:       len(def.Nodes),
	}
	if path, ok := def.WebhookPath(); ok {
		summary.Trigger = "webhook:" + path
	} else if interval, ok := def.ScheduleInterval(); ok {
		summary.Trigger = "schedule:" + interval
	} else if _, ok := def.Trigger(); ok {
		summary.Trigger = "manual"
	}
	return summary
}

type updateWorkflowRequest struct {
	ExpectedVersion int64                     `json:"expected_version"`
	Workflow        domain.WorkflowDefinition `json:"workflow"`
}

type activateRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.deps.Workflows.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summaries := make([]workflowSummary, 0, len(workflows))
	for _, def := range workflows {
		summaries = append(summaries, summarize(def))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"workflows": summaries,
		"total":     len(summaries),
	})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def domain.WorkflowDefinition
	if err := decodeBody(w, r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(def.Nodes) == 0 {
		s.writeError(w, r, fmt.Errorf("workflow has no nodes: %w", domain.ErrInvalidInput))
		return
	}

	created, err := s.deps.Workflows.Create(r.Context(), &def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Workflows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req updateWorkflowRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ExpectedVersion <= 0 {
		s.writeError(w, r, fmt.Errorf("expected_version is required: %w", domain.ErrInvalidInput))
		return
	}

	def := req.Workflow
	def.ID = r.PathValue("id")
	updated, err := s.deps.Workflows.Update(r.Context(), &def, req.ExpectedVersion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	req := activateRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	def, err := s.deps.Workflows.SetActive(r.Context(), r.PathValue("id"), active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(def))
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload domain.Item
	if err := decodeBody(w, r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Dispatcher.DispatchManual(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, newDispatchResponse(result))
}
