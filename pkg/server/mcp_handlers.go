package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/workforcelabs/foreman/pkg/session"
)

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req session.InitializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req.Origin = requestOrigin(r)

	res, err := s.deps.MCP.Initialize(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.deps.MCP.Resources(r.Context(), sessionID(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	// the wildcard carries the whole scheme://path URI
	uri := chi.URLParam(r, "*")
	content, err := s.deps.MCP.ReadResource(r.Context(), sessionID(r, ""), uri)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.deps.MCP.Tools(r.Context(), sessionID(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.deps.MCP.Prompts(r.Context(), sessionID(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

type toolCallBody struct {
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
	Stream    bool           `json:"stream,omitempty"`
	CanCancel bool           `json:"can_cancel,omitempty"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body toolCallBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user, perms := callerIdentity(r)
	decision, err := s.deps.Gate.Check(r.Context(), user, "tool", name, perms, requestOrigin(r))
	if err != nil {
		writeJSON(w, http.StatusForbidden, decision)
		return
	}

	canCancel := body.CanCancel || body.Stream
	task, err := s.deps.MCP.BeginToolCall(r.Context(), sessionID(r, body.SessionID), name, body.Arguments, canCancel)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Manager.StartTask(r.Context(), task.TaskID); err != nil {
		writeError(w, err)
		return
	}

	if body.Stream {
		s.streamToolCall(w, r, name, task.TaskID, body.Arguments)
		return
	}

	result, err := s.deps.Tools.RunTool(r.Context(), name, body.Arguments, func(ev session.ProgressEvent) {
		_ = s.deps.Manager.UpdateProgress(context.Background(), task.TaskID, ev.Progress)
	})
	if err != nil {
		_ = s.deps.Manager.FailTask(context.Background(), task.TaskID, err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"task_id": task.TaskID,
		})
		return
	}
	if err := s.deps.Manager.CompleteTask(context.Background(), task.TaskID, result); err != nil {
		writeError(w, err)
		return
	}

	text, _ := jsonText(result)
	writeJSON(w, http.StatusOK, map[string]any{
		"content":  []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		"task_id":  task.TaskID,
		"metadata": map[string]any{"tool": name},
	})
}

// streamToolCall runs the tool on a worker goroutine and relays
// progress as SSE frames. The terminal frame on success carries
// progress=1; external cancellation emits one final cancelled frame.
func (s *Server) streamToolCall(w http.ResponseWriter, r *http.Request, name, taskID string, args map[string]any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(ev session.ProgressEvent) {
		payload, err := jsonText(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	writeFrame(session.ProgressEvent{Progress: 0, Message: "task_id:" + taskID})

	runCtx, cancelRun := context.WithCancel(r.Context())
	defer cancelRun()

	events := make(chan session.ProgressEvent, 16)
	done := make(chan struct{})
	var result map[string]any
	var runErr error
	go func() {
		defer close(done)
		result, runErr = s.deps.Tools.RunTool(runCtx, name, args, func(ev session.ProgressEvent) {
			_ = s.deps.Manager.UpdateProgress(context.Background(), taskID, ev.Progress)
			select {
			case events <- ev:
			default:
			}
		})
	}()

	ticker := time.NewTicker(s.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			writeFrame(ev)

		case <-ticker.C:
			snap, err := s.deps.Manager.TaskStatus(context.Background(), taskID)
			if err != nil {
				continue
			}
			if snap.Status == session.TaskCancelled {
				cancelRun()
				writeFrame(session.ProgressEvent{Progress: snap.Progress, Message: "cancelled"})
				return
			}

		case <-done:
			for {
				select {
				case ev := <-events:
					writeFrame(ev)
					continue
				default:
				}
				break
			}
			if runErr != nil {
				_ = s.deps.Manager.FailTask(context.Background(), taskID, runErr.Error())
				writeFrame(session.ProgressEvent{Progress: 1, Message: "error: " + runErr.Error()})
				return
			}
			_ = s.deps.Manager.CompleteTask(context.Background(), taskID, result)
			text, _ := jsonText(result)
			writeFrame(session.ProgressEvent{Progress: 1, Message: text})
			return
		}
	}
}

func (s *Server) handleToolCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_id query parameter required"})
		return
	}
	user, _ := callerIdentity(r)
	if err := s.deps.Manager.CancelTask(r.Context(), taskID, "mcp:"+user); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancelled"})
}

func (s *Server) handleToolStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.MCP.Status(r.Context(), sessionID(r, ""), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type samplingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type samplingBody struct {
	Model     string            `json:"model,omitempty"`
	Messages  []samplingMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

func (s *Server) handleSampling(w http.ResponseWriter, r *http.Request) {
	var body samplingBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(body.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages required"})
		return
	}

	var sb strings.Builder
	for _, m := range body.Messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	res, err := s.deps.Sampler.CreateMessage(r.Context(), body.Model, sb.String(), body.MaxTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model": res.Model,
		"role":  "assistant",
		"content": map[string]string{
			"type": "text",
			"text": res.Content,
		},
		"usage": map[string]int{
			"prompt_tokens":     res.InputTokens,
			"completion_tokens": res.OutputTokens,
			"total_tokens":      res.TotalTokens,
		},
	})
}

func jsonText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
