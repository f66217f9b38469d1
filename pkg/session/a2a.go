package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/workforcelabs/foreman/pkg/metrics"
)

// acceptThreshold is the minimum per-skill confidence for a
// negotiation to be accepted. One weak skill rejects the whole set.
const acceptThreshold = 0.7

// SkillSource reports what this server can do and how confidently,
// keyed by skill name with confidence in [0,1]. Implemented by the
// agent runtime.
type SkillSource interface {
	Skills() map[string]float64
}

// StaticSkills is a fixed SkillSource, used in tests and single-role
// deployments.
type StaticSkills map[string]float64

func (s StaticSkills) Skills() map[string]float64 { return map[string]float64(s) }

// A2AService implements the agent-to-agent session operations.
type A2AService struct {
	manager *Manager
	skills  SkillSource

	agentID   string
	agentName string
}

// NewA2AService builds the A2A face of the session layer.
func NewA2AService(m *Manager, skills SkillSource, agentID, agentName string) *A2AService {
	return &A2AService{manager: m, skills: skills, agentID: agentID, agentName: agentName}
}

// HandshakeRequest opens an A2A session.
type HandshakeRequest struct {
	AgentID         string   `json:"agent_id"`
	AgentName       string   `json:"agent_name,omitempty"`
	ProtocolVersion string   `json:"protocol_version"`
	Capabilities    []string `json:"capabilities,omitempty"`
	PublicKey       string   `json:"public_key,omitempty"`
}

// HandshakeResult acknowledges a new A2A session.
type HandshakeResult struct {
	SessionID       string   `json:"session_id"`
	AgentID         string   `json:"agent_id"`
	AgentName       string   `json:"agent_name"`
	ProtocolVersion string   `json:"protocol_version"`
	Skills          []string `json:"skills"`
	ExpiresAt       string   `json:"expires_at"`
}

// Handshake validates the protocol version and opens a peer session.
func (s *A2AService) Handshake(ctx context.Context, req *HandshakeRequest) (*HandshakeResult, error) {
	if req.ProtocolVersion != A2AProtocolVersion {
		return nil, fmt.Errorf("%w: peer %q, server %q",
			ErrVersionMismatch, req.ProtocolVersion, A2AProtocolVersion)
	}
	if req.AgentID == "" {
		return nil, fmt.Errorf("handshake requires agent_id")
	}

	now := time.Now()
	sess := &A2ASession{
		ID:               uuid.NewString(),
		PeerAgentID:      req.AgentID,
		PeerAgentName:    req.AgentName,
		PeerCapabilities: req.Capabilities,
		ProtocolVersion:  A2AProtocolVersion,
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        now.Add(s.manager.a2aExpiry),
		Active:           true,
		PublicKey:        req.PublicKey,
	}
	if err := s.manager.store.SaveA2A(ctx, sess); err != nil {
		return nil, err
	}
	metrics.SessionsActive.WithLabelValues("a2a").Inc()
	slog.Info("a2a handshake", "peer", req.AgentID, "session", sess.ID)

	return &HandshakeResult{
		SessionID:       sess.ID,
		AgentID:         s.agentID,
		AgentName:       s.agentName,
		ProtocolVersion: A2AProtocolVersion,
		Skills:          s.skillNames(),
		ExpiresAt:       sess.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// NegotiateRequest proposes a task requiring a skill set.
type NegotiateRequest struct {
	SessionID       string         `json:"session_id"`
	RequestedSkills []string       `json:"requested_skills"`
	TaskDescription string         `json:"task_description,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Priority        int            `json:"priority,omitempty"`
}

// SkillMatch is the per-skill verdict of a negotiation.
type SkillMatch struct {
	Skill      string  `json:"skill"`
	Available  bool    `json:"available"`
	Confidence float64 `json:"confidence"`
}

// NegotiateResult is the negotiation outcome.
type NegotiateResult struct {
	NegotiationID     string            `json:"negotiation_id"`
	Status            NegotiationStatus `json:"status"`
	Matches           []SkillMatch      `json:"matches"`
	ProposedWorkflow  []WorkflowStep    `json:"proposed_workflow,omitempty"`
	EstimatedDuration int               `json:"estimated_duration_seconds,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

// Negotiate matches requested skills against this server's skill set.
// Accepted only when every requested skill is present with confidence
// at or above the threshold.
func (s *A2AService) Negotiate(ctx context.Context, req *NegotiateRequest) (*NegotiateResult, error) {
	if _, err := s.manager.TouchA2A(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if len(req.RequestedSkills) == 0 {
		return nil, fmt.Errorf("negotiation requires at least one skill")
	}

	offered := s.skills.Skills()
	matches := make([]SkillMatch, 0, len(req.RequestedSkills))
	accepted := true
	var missing []string
	for _, skill := range req.RequestedSkills {
		conf, ok := offered[skill]
		matches = append(matches, SkillMatch{Skill: skill, Available: ok, Confidence: conf})
		if !ok || conf < acceptThreshold {
			accepted = false
			missing = append(missing, skill)
		}
	}

	n := &Negotiation{
		ID:              uuid.NewString(),
		SessionID:       req.SessionID,
		RequestedSkills: req.RequestedSkills,
		AvailableSkills: s.skillNames(),
		TaskDescription: req.TaskDescription,
		Parameters:      req.Parameters,
		Priority:        req.Priority,
		Status:          NegotiationRejected,
		CreatedAt:       time.Now(),
	}

	result := &NegotiateResult{NegotiationID: n.ID, Matches: matches}
	if accepted {
		n.Status = NegotiationAccepted
		n.ProposedWorkflow = proposeWorkflow(req.RequestedSkills)
		n.EstimatedDuration = 30 * len(req.RequestedSkills)
		result.ProposedWorkflow = n.ProposedWorkflow
		result.EstimatedDuration = n.EstimatedDuration
	} else {
		result.Reason = fmt.Sprintf("insufficient confidence for skills: %v", missing)
	}
	result.Status = n.Status

	if err := s.manager.store.SaveNegotiation(ctx, n); err != nil {
		return nil, err
	}
	slog.Info("a2a negotiation", "negotiation", n.ID, "status", n.Status,
		"skills", req.RequestedSkills)
	return result, nil
}

// proposeWorkflow sketches one sequential step per requested skill.
func proposeWorkflow(skills []string) []WorkflowStep {
	steps := make([]WorkflowStep, 0, len(skills))
	for i, skill := range skills {
		steps = append(steps, WorkflowStep{
			Name:  fmt.Sprintf("step-%d-%s", i+1, skill),
			Skill: skill,
		})
	}
	return steps
}

// A2A communicate message types.
const (
	MsgTaskRequest       = "task_request"
	MsgStatusInquiry     = "status_inquiry"
	MsgResultRequest     = "result_request"
	MsgHeartbeat         = "heartbeat"
	MsgCapabilityInquiry = "capability_inquiry"
)

// Message is one A2A communicate frame.
type Message struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Reply is the response frame to a communicate message.
type Reply struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`

	// Recoverable marks errors the peer may retry with a corrected
	// message, as opposed to a dead session.
	Recoverable bool `json:"recoverable,omitempty"`
}

// Communicate dispatches one structured message on an active session.
func (s *A2AService) Communicate(ctx context.Context, msg *Message) (*Reply, error) {
	if _, err := s.manager.TouchA2A(ctx, msg.SessionID); err != nil {
		return nil, err
	}

	switch msg.Type {
	case MsgTaskRequest:
		return s.handleTaskRequest(ctx, msg)
	case MsgStatusInquiry:
		return s.handleStatusInquiry(ctx, msg)
	case MsgResultRequest:
		return s.handleResultRequest(ctx, msg)
	case MsgHeartbeat:
		return &Reply{Type: "heartbeat_ack", Payload: map[string]any{
			"server_time": time.Now().Format(time.RFC3339),
		}}, nil
	case MsgCapabilityInquiry:
		return &Reply{Type: "capability_response", Payload: map[string]any{
			"skills": s.skills.Skills(),
		}}, nil
	default:
		return &Reply{
			Type: "error",
			Error: fmt.Sprintf("unknown message type %q, supported: %v", msg.Type,
				[]string{MsgTaskRequest, MsgStatusInquiry, MsgResultRequest, MsgHeartbeat, MsgCapabilityInquiry}),
			Recoverable: true,
		}, nil
	}
}

func (s *A2AService) handleTaskRequest(ctx context.Context, msg *Message) (*Reply, error) {
	t, err := s.manager.CreateTask(ctx, msg.SessionID, "a2a_task", msg.Payload, true)
	if err != nil {
		return nil, err
	}
	return &Reply{Type: "task_accepted", Payload: map[string]any{
		"task_id":                    t.TaskID,
		"status":                     string(t.Status),
		"estimated_duration_seconds": 30,
	}}, nil
}

func (s *A2AService) handleStatusInquiry(ctx context.Context, msg *Message) (*Reply, error) {
	tasks, err := s.manager.store.ListTasksBySession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	return &Reply{Type: "status_response", Payload: map[string]any{
		"total":     len(tasks),
		"by_status": counts,
	}}, nil
}

func (s *A2AService) handleResultRequest(ctx context.Context, msg *Message) (*Reply, error) {
	taskID, _ := msg.Payload["task_id"].(string)
	if taskID == "" {
		return &Reply{Type: "error", Error: "result_request requires task_id", Recoverable: true}, nil
	}
	t, err := s.manager.TaskStatus(ctx, taskID)
	if err == ErrNotFound {
		return &Reply{Type: "error", Error: "unknown task " + taskID, Recoverable: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if t.SessionID != msg.SessionID {
		return &Reply{Type: "error", Error: "task belongs to another session", Recoverable: true}, nil
	}
	return &Reply{Type: "result_response", Payload: map[string]any{
		"task_id":  t.TaskID,
		"status":   string(t.Status),
		"progress": t.Progress,
		"result":   t.Result,
		"error":    t.Error,
	}}, nil
}

// Stream message types carried over the websocket.
const (
	StreamPing             = "ping"
	StreamStateUpdate      = "state_update"
	StreamTaskProgress     = "task_progress"
	StreamSubscribeUpdates = "subscribe_updates"
	StreamCancelTask       = "cancel_task"
)

// StreamFrame is one websocket message in either direction.
type StreamFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BindStream marks a session as having an attached websocket. A
// session carries at most one stream.
func (s *A2AService) BindStream(ctx context.Context, sessionID string) (*A2ASession, error) {
	sess, err := s.manager.TouchA2A(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StreamBound {
		return nil, fmt.Errorf("session %s already has a bound stream", sessionID)
	}
	sess.StreamBound = true
	if err := s.manager.store.SaveA2A(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UnbindStream clears the stream flag on disconnect. The session
// itself stays active.
func (s *A2AService) UnbindStream(ctx context.Context, sessionID string) {
	sess, err := s.manager.store.GetA2A(ctx, sessionID)
	if err != nil {
		return
	}
	sess.StreamBound = false
	if err := s.manager.store.SaveA2A(ctx, sess); err != nil {
		slog.Warn("failed to unbind stream", "session", sessionID, "error", err)
	}
}

// HandleStreamFrame dispatches one inbound websocket frame and returns
// the reply frame, or nil when no reply is due.
func (s *A2AService) HandleStreamFrame(ctx context.Context, sessionID string, frame *StreamFrame) (*StreamFrame, error) {
	if _, err := s.manager.TouchA2A(ctx, sessionID); err != nil {
		return nil, err
	}

	switch frame.Type {
	case StreamPing:
		return &StreamFrame{Type: "pong", Payload: map[string]any{
			"server_time": time.Now().Format(time.RFC3339),
		}}, nil

	case StreamStateUpdate:
		slog.Debug("peer state update", "session", sessionID, "payload", frame.Payload)
		return &StreamFrame{Type: "state_ack"}, nil

	case StreamTaskProgress:
		taskID, _ := frame.Payload["task_id"].(string)
		progress, _ := frame.Payload["progress"].(float64)
		if taskID == "" {
			return &StreamFrame{Type: "error", Error: "task_progress requires task_id"}, nil
		}
		if err := s.manager.UpdateProgress(ctx, taskID, progress); err != nil {
			return &StreamFrame{Type: "error", Error: err.Error()}, nil
		}
		return &StreamFrame{Type: "progress_ack", Payload: map[string]any{"task_id": taskID}}, nil

	case StreamSubscribeUpdates:
		return &StreamFrame{Type: "subscribed"}, nil

	case StreamCancelTask:
		taskID, _ := frame.Payload["task_id"].(string)
		if taskID == "" {
			return &StreamFrame{Type: "error", Error: "cancel_task requires task_id"}, nil
		}
		if err := s.manager.CancelTask(ctx, taskID, "a2a:"+sessionID); err != nil {
			return &StreamFrame{Type: "error", Error: err.Error()}, nil
		}
		return &StreamFrame{Type: "cancel_ack", Payload: map[string]any{"task_id": taskID}}, nil

	default:
		return &StreamFrame{Type: "error",
			Error: fmt.Sprintf("unknown stream message type %q", frame.Type)}, nil
	}
}

func (s *A2AService) skillNames() []string {
	offered := s.skills.Skills()
	names := make([]string, 0, len(offered))
	for name := range offered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
