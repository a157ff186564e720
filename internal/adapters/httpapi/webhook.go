package httpapi

import (
	"net/http"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

type dispatchResponse struct {
	Accepted    bool                   `json:"accepted"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Duplicate   bool                   `json:"duplicate"`
	Execution   *domain.Execution      `json:"execution,omitempty"`
}

func newDispatchResponse(result *ports.DispatchResult) dispatchResponse {
	resp := dispatchResponse{
		Accepted:    true,
		ExecutionID: result.ExecutionID,
		WorkflowID:  result.WorkflowID,
		Status:      result.Status,
		Duplicate:   result.Duplicate,
	}
	if result.Status.Terminal() {
		resp.Execution = result.Execution
	}
	return resp
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Dispatcher.DispatchWebhook(r.Context(), path, body)
	if err != nil {
		s.logger.Info("webhook rejected", "path", path, "error", err, "error_kind", domain.ErrorKind(err))
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, newDispatchResponse(result))
}
