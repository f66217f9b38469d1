package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/workforcelabs/foreman/pkg/session"
)

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req session.HandshakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := s.deps.A2A.Handshake(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req session.NegotiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := s.deps.A2A.Negotiate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"negotiation_id":     res.NegotiationID,
		"accepted":           res.Status == session.NegotiationAccepted,
		"status":             res.Status,
		"matches":            res.Matches,
		"proposed_workflow":  res.ProposedWorkflow,
		"estimated_duration": res.EstimatedDuration,
		"reason":             res.Reason,
	})
}

type communicateBody struct {
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleCommunicate(w http.ResponseWriter, r *http.Request) {
	var body communicateBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	reply, err := s.deps.A2A.Communicate(r.Context(), &session.Message{
		SessionID: body.SessionID,
		Type:      body.Type,
		Payload:   body.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := "ok"
	if reply.Error != "" {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message_id":  uuid.NewString(),
		"response_to": body.MessageID,
		"status":      status,
		"type":        reply.Type,
		"payload":     reply.Payload,
		"error":       reply.Error,
		"recoverable": reply.Recoverable,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// handleStream upgrades to a websocket and relays JSON frames through
// the A2A service. Disconnects unbind the stream but keep the session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	if _, err := s.deps.A2A.BindStream(r.Context(), sid); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.A2A.UnbindStream(r.Context(), sid)
		slog.Warn("websocket upgrade failed", "session", sid, "error", err)
		return
	}
	defer func() {
		s.deps.A2A.UnbindStream(r.Context(), sid)
		_ = conn.Close()
	}()

	for {
		var frame session.StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			slog.Debug("stream closed", "session", sid, "error", err)
			return
		}
		reply, err := s.deps.A2A.HandleStreamFrame(r.Context(), sid, &frame)
		if err != nil {
			_ = conn.WriteJSON(session.StreamFrame{Type: "error", Error: err.Error()})
			return
		}
		if reply == nil {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}
