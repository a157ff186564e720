package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
)

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Rule   string `json:"rule,omitempty"`
	NodeID string `json:"node_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := xjson.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", "status", status, "error", err)
	}
}

// writeError maps an error onto a status code. Unclassified errors are a 500
// and are logged; everything else is the caller's problem.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	s.writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error(), Kind: domain.ErrorKind(err)}

	var dispatchErr *domain.DispatchError
	if errors.As(err, &dispatchErr) {
		switch dispatchErr.Kind {
		case domain.DispatchMalformedPayload:
			return http.StatusBadRequest, body
		default:
			return http.StatusNotFound, body
		}
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		body.Rule = validationErr.Rule
		body.NodeID = validationErr.NodeID
		return http.StatusUnprocessableEntity, body
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, body
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrPathInUse):
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, body
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrNotStarted):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, body
}

// decodeBody reads a size-capped JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := xjson.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}
