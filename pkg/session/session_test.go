package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), config.SessionConfig{
		MCPExpiry:     time.Hour,
		A2AExpiry:     2 * time.Hour,
		SweepInterval: time.Minute,
	})
}

type staticInventory struct{}

func (staticInventory) Agents() []AgentSummary {
	return []AgentSummary{{ID: "researcher-1", Name: "Researcher", Role: "researcher"}}
}
func (staticInventory) ActiveWorkflows() []string     { return nil }
func (staticInventory) WorkflowTemplates() []string   { return []string{"research-pipeline"} }
func (staticInventory) MetricsSnapshot() map[string]any {
	return map[string]any{"agents": 1}
}

func testMCP(t *testing.T) (*MCPService, *Manager) {
	t.Helper()
	m := testManager(t)
	return NewMCPService(m, staticInventory{}, "foreman", "1.0.0"), m
}

func TestMCPInitialize(t *testing.T) {
	svc, m := testMCP(t)

	res, err := svc.Initialize(context.Background(), &InitializeRequest{
		ProtocolVersion: MCPProtocolVersion,
		ClientInfo:      ClientInfo{Name: "test-client", Version: "0.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, MCPProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, "foreman", res.ServerInfo.Name)
	assert.NotEmpty(t, res.SessionID)
	assert.Contains(t, res.Capabilities, "tools")
	assert.Contains(t, res.Capabilities, "sampling")

	sess, err := m.TouchMCP(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.Equal(t, "test-client", sess.ClientInfo.Name)
}

func TestMCPInitializeVersionMismatch(t *testing.T) {
	svc, _ := testMCP(t)

	_, err := svc.Initialize(context.Background(), &InitializeRequest{
		ProtocolVersion: "2024-01-01",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestMCPResourceInventory(t *testing.T) {
	svc, _ := testMCP(t)
	ctx := context.Background()

	resources, err := svc.Resources(ctx, "")
	require.NoError(t, err)

	uris := make([]string, 0, len(resources))
	for _, r := range resources {
		uris = append(uris, r.URI)
	}
	assert.Contains(t, uris, "agent://researcher-1")
	assert.Contains(t, uris, "workflow://templates")
	assert.Contains(t, uris, "workflow://active")
	assert.Contains(t, uris, "system://metrics")
	assert.Contains(t, uris, "system://logs")

	content, err := svc.ReadResource(ctx, "", "agent://researcher-1")
	require.NoError(t, err)
	assert.Contains(t, content.Text, "researcher")

	_, err = svc.ReadResource(ctx, "", "agent://nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMCPToolAndPromptInventory(t *testing.T) {
	svc, _ := testMCP(t)
	ctx := context.Background()

	tools, err := svc.Tools(ctx, "")
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"execute_agent", "create_workflow", "quantum_execute", "analyze_system"}, names)
	for _, tool := range tools {
		assert.Equal(t, "object", tool.InputSchema.Type)
	}

	prompts, err := svc.Prompts(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, prompts)

	rendered, err := svc.GetPrompt(ctx, "", "researcher", map[string]string{"input": "solar trends"})
	require.NoError(t, err)
	assert.Contains(t, rendered, "solar trends")
}

func TestMCPToolCallLifecycle(t *testing.T) {
	svc, m := testMCP(t)
	ctx := context.Background()

	init, err := svc.Initialize(ctx, &InitializeRequest{ProtocolVersion: MCPProtocolVersion})
	require.NoError(t, err)

	task, err := svc.BeginToolCall(ctx, init.SessionID, "execute_agent",
		map[string]any{"agent_id": "researcher-1", "input": "go"}, true)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, init.SessionID, task.SessionID)

	require.NoError(t, m.StartTask(ctx, task.TaskID))
	require.NoError(t, m.UpdateProgress(ctx, task.TaskID, 0.5))

	// progress is monotone, a stale lower value is ignored
	require.NoError(t, m.UpdateProgress(ctx, task.TaskID, 0.2))
	snap, err := svc.Status(ctx, init.SessionID, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap.Progress)

	require.NoError(t, m.CompleteTask(ctx, task.TaskID, map[string]any{"output": "done"}))
	snap, err = svc.Status(ctx, init.SessionID, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, snap.Status)
	assert.Equal(t, 1.0, snap.Progress)

	// terminal records reject cancellation
	err = svc.Cancel(ctx, init.SessionID, task.TaskID)
	assert.Error(t, err)
}

func TestMCPCancelRespectsCanCancel(t *testing.T) {
	svc, _ := testMCP(t)
	ctx := context.Background()

	init, err := svc.Initialize(ctx, &InitializeRequest{ProtocolVersion: MCPProtocolVersion})
	require.NoError(t, err)

	task, err := svc.BeginToolCall(ctx, init.SessionID, "analyze_system", nil, false)
	require.NoError(t, err)

	err = svc.Cancel(ctx, init.SessionID, task.TaskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not cancellable")

	cancellable, err := svc.BeginToolCall(ctx, init.SessionID, "execute_agent", nil, true)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, init.SessionID, cancellable.TaskID))

	snap, err := svc.Status(ctx, init.SessionID, cancellable.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, snap.Status)
	assert.Equal(t, "mcp:"+init.SessionID, snap.CancelledBy)
	// the cancelled snapshot no longer advertises cancellability
	assert.False(t, snap.CanCancel)
}

func TestSessionExpirySweep(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	sess := &MCPSession{
		ID:           "expired",
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		LastActivity: time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
		Active:       true,
	}
	require.NoError(t, m.store.SaveMCP(ctx, sess))

	task, err := m.CreateTask(ctx, "expired", "execute_agent", nil, true)
	require.NoError(t, err)
	require.NoError(t, m.StartTask(ctx, task.TaskID))

	m.sweepOnce(ctx)

	got, err := m.store.GetMCP(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = m.TouchMCP(ctx, "expired")
	assert.ErrorIs(t, err, ErrSessionInactive)

	snap, err := m.TaskStatus(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, snap.Status)
	assert.Equal(t, "session expired", snap.CancelledBy)
}

func TestRecoverTasks(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	running, err := m.CreateTask(ctx, "s1", "execute_agent", nil, true)
	require.NoError(t, err)
	require.NoError(t, m.StartTask(ctx, running.TaskID))

	done, err := m.CreateTask(ctx, "s1", "execute_agent", nil, true)
	require.NoError(t, err)
	require.NoError(t, m.StartTask(ctx, done.TaskID))
	require.NoError(t, m.CompleteTask(ctx, done.TaskID, nil))

	require.NoError(t, m.RecoverTasks(ctx))

	snap, err := m.TaskStatus(ctx, running.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, snap.Status)
	assert.Equal(t, "server_restart", snap.Error)

	snap, err = m.TaskStatus(ctx, done.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, snap.Status)
}

func testA2A(t *testing.T, skills StaticSkills) (*A2AService, *Manager) {
	t.Helper()
	m := testManager(t)
	return NewA2AService(m, skills, "foreman-1", "Foreman"), m
}

func a2aHandshake(t *testing.T, svc *A2AService) string {
	t.Helper()
	res, err := svc.Handshake(context.Background(), &HandshakeRequest{
		AgentID:         "peer-1",
		AgentName:       "Peer",
		ProtocolVersion: A2AProtocolVersion,
		Capabilities:    []string{"research"},
	})
	require.NoError(t, err)
	return res.SessionID
}

func TestA2AHandshake(t *testing.T) {
	svc, m := testA2A(t, StaticSkills{"research": 0.9, "analysis": 0.8})

	res, err := svc.Handshake(context.Background(), &HandshakeRequest{
		AgentID:         "peer-1",
		ProtocolVersion: A2AProtocolVersion,
	})
	require.NoError(t, err)
	assert.Equal(t, A2AProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, []string{"analysis", "research"}, res.Skills)

	sess, err := m.TouchA2A(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", sess.PeerAgentID)

	_, err = svc.Handshake(context.Background(), &HandshakeRequest{
		AgentID:         "peer-2",
		ProtocolVersion: "0.9.0",
	})
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestA2ANegotiateAccepted(t *testing.T) {
	svc, m := testA2A(t, StaticSkills{"research": 0.9, "analysis": 0.75})
	sid := a2aHandshake(t, svc)

	res, err := svc.Negotiate(context.Background(), &NegotiateRequest{
		SessionID:       sid,
		RequestedSkills: []string{"research", "analysis"},
		TaskDescription: "market study",
	})
	require.NoError(t, err)
	assert.Equal(t, NegotiationAccepted, res.Status)
	require.Len(t, res.ProposedWorkflow, 2)
	assert.Equal(t, "research", res.ProposedWorkflow[0].Skill)
	assert.Equal(t, 60, res.EstimatedDuration)

	stored, err := m.store.GetNegotiation(context.Background(), res.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, NegotiationAccepted, stored.Status)
}

func TestA2ANegotiateConfidenceBoundary(t *testing.T) {
	// 0.7 is the floor: exactly at threshold accepts, just below rejects.
	svc, _ := testA2A(t, StaticSkills{"research": 0.7, "analysis": 0.69})
	sid := a2aHandshake(t, svc)

	res, err := svc.Negotiate(context.Background(), &NegotiateRequest{
		SessionID:       sid,
		RequestedSkills: []string{"research"},
	})
	require.NoError(t, err)
	assert.Equal(t, NegotiationAccepted, res.Status)

	res, err = svc.Negotiate(context.Background(), &NegotiateRequest{
		SessionID:       sid,
		RequestedSkills: []string{"research", "analysis"},
	})
	require.NoError(t, err)
	assert.Equal(t, NegotiationRejected, res.Status)
	assert.Contains(t, res.Reason, "analysis")
}

func TestA2ANegotiateMissingSkill(t *testing.T) {
	svc, _ := testA2A(t, StaticSkills{"research": 0.9})
	sid := a2aHandshake(t, svc)

	res, err := svc.Negotiate(context.Background(), &NegotiateRequest{
		SessionID:       sid,
		RequestedSkills: []string{"research", "translation"},
	})
	require.NoError(t, err)
	assert.Equal(t, NegotiationRejected, res.Status)

	var translation SkillMatch
	for _, match := range res.Matches {
		if match.Skill == "translation" {
			translation = match
		}
	}
	assert.False(t, translation.Available)
}

func TestA2ACommunicateRoundTrip(t *testing.T) {
	svc, m := testA2A(t, StaticSkills{"research": 0.9})
	sid := a2aHandshake(t, svc)
	ctx := context.Background()

	reply, err := svc.Communicate(ctx, &Message{
		SessionID: sid,
		Type:      MsgTaskRequest,
		Payload:   map[string]any{"description": "summarize"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task_accepted", reply.Type)
	taskID := reply.Payload["task_id"].(string)
	require.NotEmpty(t, taskID)

	require.NoError(t, m.StartTask(ctx, taskID))
	require.NoError(t, m.CompleteTask(ctx, taskID, map[string]any{"summary": "short"}))

	reply, err = svc.Communicate(ctx, &Message{
		SessionID: sid,
		Type:      MsgResultRequest,
		Payload:   map[string]any{"task_id": taskID},
	})
	require.NoError(t, err)
	assert.Equal(t, "result_response", reply.Type)
	assert.Equal(t, "completed", reply.Payload["status"])

	reply, err = svc.Communicate(ctx, &Message{SessionID: sid, Type: MsgStatusInquiry})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Payload["total"])

	reply, err = svc.Communicate(ctx, &Message{SessionID: sid, Type: MsgHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, "heartbeat_ack", reply.Type)

	reply, err = svc.Communicate(ctx, &Message{SessionID: sid, Type: "teleport"})
	require.NoError(t, err)
	assert.Equal(t, "error", reply.Type)
	assert.True(t, reply.Recoverable)
	assert.Contains(t, reply.Error, "task_request")
}

func TestA2AResultRequestCrossSession(t *testing.T) {
	svc, _ := testA2A(t, StaticSkills{"research": 0.9})
	sidA := a2aHandshake(t, svc)
	sidB := a2aHandshake(t, svc)
	ctx := context.Background()

	reply, err := svc.Communicate(ctx, &Message{SessionID: sidA, Type: MsgTaskRequest})
	require.NoError(t, err)
	taskID := reply.Payload["task_id"].(string)

	reply, err = svc.Communicate(ctx, &Message{
		SessionID: sidB,
		Type:      MsgResultRequest,
		Payload:   map[string]any{"task_id": taskID},
	})
	require.NoError(t, err)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Error, "another session")
}

func TestA2AStreamBinding(t *testing.T) {
	svc, _ := testA2A(t, StaticSkills{"research": 0.9})
	sid := a2aHandshake(t, svc)
	ctx := context.Background()

	sess, err := svc.BindStream(ctx, sid)
	require.NoError(t, err)
	assert.True(t, sess.StreamBound)

	_, err = svc.BindStream(ctx, sid)
	require.Error(t, err)

	svc.UnbindStream(ctx, sid)
	sess, err = svc.BindStream(ctx, sid)
	require.NoError(t, err)
	assert.True(t, sess.StreamBound)
}

func TestA2AStreamFrames(t *testing.T) {
	svc, m := testA2A(t, StaticSkills{"research": 0.9})
	sid := a2aHandshake(t, svc)
	ctx := context.Background()

	reply, err := svc.HandleStreamFrame(ctx, sid, &StreamFrame{Type: StreamPing})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Type)

	task, err := m.CreateTask(ctx, sid, "a2a_task", nil, true)
	require.NoError(t, err)
	require.NoError(t, m.StartTask(ctx, task.TaskID))

	reply, err = svc.HandleStreamFrame(ctx, sid, &StreamFrame{
		Type:    StreamTaskProgress,
		Payload: map[string]any{"task_id": task.TaskID, "progress": 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, "progress_ack", reply.Type)

	snap, err := m.TaskStatus(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 0.4, snap.Progress)

	reply, err = svc.HandleStreamFrame(ctx, sid, &StreamFrame{
		Type:    StreamCancelTask,
		Payload: map[string]any{"task_id": task.TaskID},
	})
	require.NoError(t, err)
	assert.Equal(t, "cancel_ack", reply.Type)

	reply, err = svc.HandleStreamFrame(ctx, sid, &StreamFrame{Type: "warp"})
	require.NoError(t, err)
	assert.Equal(t, "error", reply.Type)
}
