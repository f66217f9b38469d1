package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/consent"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/ratelimit"
	"github.com/workforcelabs/foreman/pkg/session"
)

type stubRunner struct {
	result   map[string]any
	err      error
	block    bool
	progress []float64
}

func (s *stubRunner) RunTool(ctx context.Context, _ string, _ map[string]any, progress func(session.ProgressEvent)) (map[string]any, error) {
	for _, p := range s.progress {
		progress(session.ProgressEvent{Progress: p, Message: "working"})
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.result, s.err
}

type stubSampler struct{}

func (stubSampler) CreateMessage(_ context.Context, model, prompt string, _ int) (*llms.Response, error) {
	return &llms.Response{
		Content:      "sampled: " + prompt[:min(20, len(prompt))],
		Model:        model,
		InputTokens:  10,
		OutputTokens: 5,
		TotalTokens:  15,
	}, nil
}

type testInventory struct{}

func (testInventory) Agents() []session.AgentSummary {
	return []session.AgentSummary{{ID: "r1", Name: "Researcher", Role: "researcher"}}
}
func (testInventory) ActiveWorkflows() []string       { return nil }
func (testInventory) WorkflowTemplates() []string     { return nil }
func (testInventory) MetricsSnapshot() map[string]any { return map[string]any{} }

func newTestServer(t *testing.T, runner ToolRunner) (*httptest.Server, *session.Manager) {
	t.Helper()

	manager := session.NewManager(session.NewMemoryStore(), config.SessionConfig{
		MCPExpiry:     time.Hour,
		A2AExpiry:     time.Hour,
		SweepInterval: time.Minute,
	})
	gate := consent.NewGate(ratelimit.NewMemoryStore())
	for _, tool := range []string{"execute_agent", "create_workflow", "quantum_execute", "analyze_system"} {
		gate.SetPolicy(&consent.Policy{ResourceType: "tool", ResourceName: tool, AutoApprove: true})
	}

	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, Deps{
		MCP:     session.NewMCPService(manager, testInventory{}, "foreman", "test"),
		A2A:     session.NewA2AService(manager, session.StaticSkills{"research": 0.9}, "foreman-1", "Foreman"),
		Manager: manager,
		Gate:    gate,
		Tools:   runner,
		Sampler: stubSampler{},
	})
	srv.cancelPoll = 20 * time.Millisecond

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, manager
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestInitializeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp := postJSON(t, ts.URL+"/initialize", map[string]any{
		"protocolVersion": session.MCPProtocolVersion,
		"clientInfo":      map[string]string{"name": "test", "version": "0.1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, session.MCPProtocolVersion, body["protocolVersion"])

	resp = postJSON(t, ts.URL+"/initialize", map[string]any{"protocolVersion": "1999-01-01"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestResourceAndToolListing(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp, err := http.Get(ts.URL + "/resources")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]map[string]any](t, resp)
	assert.NotEmpty(t, body["resources"])

	resp, err = http.Get(ts.URL + "/resources/agent://r1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content := decode[map[string]any](t, resp)
	assert.Equal(t, "agent://r1", content["uri"])

	resp, err = http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tools := decode[map[string][]map[string]any](t, resp)
	assert.Len(t, tools["tools"], 4)
}

func TestToolCallCompletes(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{result: map[string]any{"output": "done"}})

	resp := postJSON(t, ts.URL+"/tools/analyze_system/call", map[string]any{"arguments": map[string]any{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	taskID := body["task_id"].(string)
	require.NotEmpty(t, taskID)
	content := body["content"].([]any)
	require.Len(t, content, 1)
	assert.Contains(t, content[0].(map[string]any)["text"], "done")

	statusResp, err := http.Get(ts.URL + "/tools/analyze_system/status/" + taskID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	snap := decode[session.TaskExecution](t, statusResp)
	assert.Equal(t, session.TaskCompleted, snap.Status)
	assert.Equal(t, 1.0, snap.Progress)
}

func TestToolCallDeniedWithoutPolicy(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp := postJSON(t, ts.URL+"/tools/secret_tool/call", map[string]any{"arguments": map[string]any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// Streaming cancellation: the client reads progress frames, cancels by
// task id, and the stream ends with a single cancelled frame.
func TestToolCallStreamCancellation(t *testing.T) {
	runner := &stubRunner{block: true, progress: []float64{0.3}}
	ts, _ := newTestServer(t, runner)

	raw, err := json.Marshal(map[string]any{"arguments": map[string]any{}, "stream": true})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/tools/execute_agent/call", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var taskID string
	var frames []session.ProgressEvent
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev session.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		frames = append(frames, ev)

		if strings.HasPrefix(ev.Message, "task_id:") {
			taskID = strings.TrimPrefix(ev.Message, "task_id:")
			continue
		}
		if ev.Progress == 0.3 {
			cancelResp, err := http.Post(
				fmt.Sprintf("%s/tools/execute_agent/cancel?task_id=%s", ts.URL, taskID),
				"application/json", nil)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, cancelResp.StatusCode)
			cancelResp.Body.Close()
		}
	}

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "cancelled", last.Message)

	statusResp, err := http.Get(ts.URL + "/tools/execute_agent/status/" + taskID)
	require.NoError(t, err)
	snap := decode[session.TaskExecution](t, statusResp)
	assert.Equal(t, session.TaskCancelled, snap.Status)
	assert.False(t, snap.CanCancel)
}

func TestToolCallStreamCompletes(t *testing.T) {
	runner := &stubRunner{result: map[string]any{"output": "ok"}, progress: []float64{0.5}}
	ts, _ := newTestServer(t, runner)

	raw, _ := json.Marshal(map[string]any{"arguments": map[string]any{}, "stream": true})
	resp, err := http.Post(ts.URL+"/tools/execute_agent/call", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var last session.ProgressEvent
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
	}
	assert.Equal(t, 1.0, last.Progress)
	assert.Contains(t, last.Message, "ok")
}

func TestSamplingEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp := postJSON(t, ts.URL+"/sampling/createMessage", map[string]any{
		"model":      "openai/gpt-4o",
		"messages":   []map[string]string{{"role": "user", "content": "hello"}},
		"max_tokens": 64,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "assistant", body["role"])
	usage := body["usage"].(map[string]any)
	assert.Equal(t, float64(15), usage["total_tokens"])
}

func TestA2AEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp := postJSON(t, ts.URL+"/handshake", map[string]any{
		"agent_id":         "peer-1",
		"protocol_version": session.A2AProtocolVersion,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hs := decode[map[string]any](t, resp)
	sid := hs["session_id"].(string)
	require.NotEmpty(t, sid)

	resp = postJSON(t, ts.URL+"/negotiate", map[string]any{
		"session_id":       sid,
		"requested_skills": []string{"research"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	neg := decode[map[string]any](t, resp)
	assert.Equal(t, true, neg["accepted"])

	resp = postJSON(t, ts.URL+"/communicate", map[string]any{
		"session_id": sid,
		"message_id": "m1",
		"type":       "task_request",
		"payload":    map[string]any{"description": "summarize"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comm := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", comm["status"])
	assert.Equal(t, "m1", comm["response_to"])
	assert.Equal(t, "task_accepted", comm["type"])
}

func TestA2AWebsocketStream(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp := postJSON(t, ts.URL+"/handshake", map[string]any{
		"agent_id":         "peer-1",
		"protocol_version": session.A2AProtocolVersion,
	})
	hs := decode[map[string]any](t, resp)
	sid := hs["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/" + sid
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(session.StreamFrame{Type: session.StreamPing}))
	var reply session.StreamFrame
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)

	require.NoError(t, conn.WriteJSON(session.StreamFrame{Type: "warp"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
