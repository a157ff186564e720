package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ExecutionFilter{
		WorkflowID: query.Get("workflow_id"),
		Status:     domain.ExecutionStatus(query.Get("status")),
	}

	switch filter.Status {
	case "", domain.ExecutionRunning, domain.ExecutionSucceeded, domain.ExecutionFailed:
	default:
		s.writeError(w, r, fmt.Errorf("unknown status %q: %w", filter.Status, domain.ErrInvalidInput))
		return
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("limit must be a non-negative integer: %w", domain.ErrInvalidInput))
			return
		}
		filter.Limit = limit
	}

	executions, err := s.deps.Executions.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"limit":      filter.EffectiveLimit(),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Executions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// handleStreamExecution upgrades to a websocket and forwards the execution's
// events until it finishes. A finished execution gets its final event and
// the connection closes.
func (s *Server) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.Events == nil {
		s.writeError(w, r, fmt.Errorf("event stream: %w", domain.ErrNotStarted))
		return
	}

	events, cancel := s.deps.Events.Subscribe(id)
	defer cancel()

	exec, err := s.deps.Executions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "execution_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("execution_id", id)
	logger.Debug("execution stream opened")

	if exec.Finished() {
		final := domain.ExecutionEvent{
			Type:        domain.EventExecutionFinished,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Status:      string(exec.Status),
			Error:       exec.Error,
			Execution:   exec,
			Timestamp:   *exec.FinishedAt,
		}
		s.sendEvent(conn, final)
		s.closeStream(conn, "execution finished")
		return
	}

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				s.closeStream(conn, "execution finished")
				return
			}
			if err := s.sendEvent(conn, event); err != nil {
				logger.Debug("execution stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-clientGone:
			logger.Debug("execution stream closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) sendEvent(conn *websocket.Conn, event domain.ExecutionEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(event)
}

func (s *Server) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
