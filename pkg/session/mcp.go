package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/workforcelabs/foreman/pkg/metrics"
	"github.com/workforcelabs/foreman/pkg/prompt"
)

// AgentSummary is the inventory view of one registered agent.
type AgentSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Inventory supplies the dynamic resource listings. Implemented by the
// runtime assembly.
type Inventory interface {
	Agents() []AgentSummary
	ActiveWorkflows() []string
	WorkflowTemplates() []string
	MetricsSnapshot() map[string]any
}

// MCPService implements the MCP session operations over a Manager.
type MCPService struct {
	manager   *Manager
	inventory Inventory

	serverName    string
	serverVersion string
}

// NewMCPService builds the MCP face of the session layer.
func NewMCPService(m *Manager, inv Inventory, serverName, serverVersion string) *MCPService {
	return &MCPService{
		manager:       m,
		inventory:     inv,
		serverName:    serverName,
		serverVersion: serverVersion,
	}
}

// InitializeRequest is the MCP initialize payload.
type InitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo     `json:"clientInfo"`

	Origin Origin `json:"-"`
}

// ServerInfo identifies this server to clients.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the MCP initialize response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
	SessionID       string         `json:"session_id"`
}

// serverCapabilities is the advertised MCP feature set.
func serverCapabilities() map[string]any {
	return map[string]any{
		"resources": map[string]any{"subscribe": true, "listChanged": true},
		"tools":     map[string]any{"listChanged": true, "progress": true, "cancellation": true},
		"prompts":   map[string]any{"listChanged": true},
		"sampling":  map[string]any{},
	}
}

// Initialize validates the protocol version and opens a session.
func (s *MCPService) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResult, error) {
	if req.ProtocolVersion != MCPProtocolVersion {
		return nil, fmt.Errorf("%w: client %q, server %q",
			ErrVersionMismatch, req.ProtocolVersion, MCPProtocolVersion)
	}

	now := time.Now()
	sess := &MCPSession{
		ID:                 uuid.NewString(),
		ProtocolVersion:    MCPProtocolVersion,
		ClientInfo:         req.ClientInfo,
		ClientCapabilities: req.Capabilities,
		ServerCapabilities: serverCapabilities(),
		CreatedAt:          now,
		LastActivity:       now,
		ExpiresAt:          now.Add(s.manager.mcpExpiry),
		Active:             true,
		Origin:             req.Origin,
	}
	if err := s.manager.store.SaveMCP(ctx, sess); err != nil {
		return nil, err
	}
	metrics.SessionsActive.WithLabelValues("mcp").Inc()

	return &InitializeResult{
		ProtocolVersion: MCPProtocolVersion,
		ServerInfo:      ServerInfo{Name: s.serverName, Version: s.serverVersion},
		Capabilities:    sess.ServerCapabilities,
		SessionID:       sess.ID,
	}, nil
}

// Resources returns the dynamic resource inventory.
func (s *MCPService) Resources(ctx context.Context, sessionID string) ([]mcp.Resource, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}

	var out []mcp.Resource
	for _, a := range s.inventory.Agents() {
		out = append(out, mcp.Resource{
			URI:         "agent://" + a.ID,
			Name:        a.Name,
			Description: fmt.Sprintf("Agent %s (%s)", a.Name, a.Role),
			MIMEType:    "application/json",
		})
	}
	out = append(out,
		mcp.Resource{URI: "workflow://templates", Name: "Workflow templates",
			Description: "Reusable workflow definitions", MIMEType: "application/json"},
		mcp.Resource{URI: "workflow://active", Name: "Active workflows",
			Description: "Currently running workflows", MIMEType: "application/json"},
		mcp.Resource{URI: "system://metrics", Name: "System metrics",
			Description: "Process counters and gauges", MIMEType: "application/json"},
		mcp.Resource{URI: "system://logs", Name: "System logs",
			Description: "Recent log output", MIMEType: "text/plain"},
	)
	return out, nil
}

// ResourceContent is one resolved resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResource resolves one resource URI.
func (s *MCPService) ReadResource(ctx context.Context, sessionID, uri string) (*ResourceContent, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}

	var payload any
	mime := "application/json"
	switch {
	case len(uri) > len("agent://") && uri[:len("agent://")] == "agent://":
		id := uri[len("agent://"):]
		for _, a := range s.inventory.Agents() {
			if a.ID == id {
				payload = a
			}
		}
		if payload == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
	case uri == "workflow://templates":
		payload = s.inventory.WorkflowTemplates()
	case uri == "workflow://active":
		payload = s.inventory.ActiveWorkflows()
	case uri == "system://metrics":
		payload = s.inventory.MetricsSnapshot()
	case uri == "system://logs":
		mime = "text/plain"
		payload = "log streaming is exposed via the metrics endpoint"
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ResourceContent{URI: uri, MIMEType: mime, Text: string(text)}, nil
}

// Tools returns the tool inventory.
func (s *MCPService) Tools(ctx context.Context, sessionID string) ([]mcp.Tool, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return []mcp.Tool{
		{
			Name:        "execute_agent",
			Description: "Run a single agent against an input and return its output",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"agent_id": map[string]any{"type": "string", "description": "Registered agent id"},
					"input":    map[string]any{"type": "string", "description": "Task input text"},
				},
				Required: []string{"agent_id", "input"},
			},
		},
		{
			Name:        "create_workflow",
			Description: "Build and run a task workflow toward a goal",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"goal":         map[string]any{"type": "string", "description": "Workflow goal"},
					"tasks":        map[string]any{"type": "array", "description": "Task definitions with dependencies"},
					"max_cost_usd": map[string]any{"type": "number", "description": "Cost budget"},
				},
				Required: []string{"goal"},
			},
		},
		{
			Name:        "quantum_execute",
			Description: "Run a prompt as parallel variations and collapse the results",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"prompt":       map[string]any{"type": "string", "description": "Base prompt"},
					"strategy":     map[string]any{"type": "string", "description": "Collapse strategy (first_success, best_score, consensus, combined, weighted)"},
					"variations":   map[string]any{"type": "array", "description": "Prompt variations with optional model and weight"},
					"max_parallel": map[string]any{"type": "integer", "description": "Fan-out bound, capped at 20"},
				},
				Required: []string{"prompt", "strategy", "variations"},
			},
		},
		{
			Name:        "analyze_system",
			Description: "Report registry, session and workload statistics",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{},
			},
		},
	}, nil
}

// Prompts exposes the role template library.
func (s *MCPService) Prompts(ctx context.Context, sessionID string) ([]mcp.Prompt, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	var out []mcp.Prompt
	for _, role := range prompt.Roles() {
		out = append(out, mcp.Prompt{
			Name:        role,
			Description: "Role-structured prompt for the " + role + " agent role",
			Arguments: []mcp.PromptArgument{
				{Name: "input", Description: "Task input substituted into the template", Required: true},
			},
		})
	}
	return out, nil
}

// GetPrompt renders one role template.
func (s *MCPService) GetPrompt(ctx context.Context, sessionID, name string, args map[string]string) (string, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return "", err
	}
	tmpl, err := prompt.ForRole(name)
	if err != nil {
		return "", err
	}
	return tmpl.Render(args), nil
}

// BeginToolCall validates the session and opens a task record for one
// tool invocation. Dispatch happens in the transport layer.
func (s *MCPService) BeginToolCall(ctx context.Context, sessionID, tool string, args map[string]any, canCancel bool) (*TaskExecution, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.manager.CreateTask(ctx, sessionID, tool, args, canCancel)
}

// Cancel flips a task to cancelled on behalf of an MCP caller.
func (s *MCPService) Cancel(ctx context.Context, sessionID, taskID string) error {
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	return s.manager.CancelTask(ctx, taskID, "mcp:"+sessionID)
}

// Status returns the task-execution snapshot.
func (s *MCPService) Status(ctx context.Context, sessionID, taskID string) (*TaskExecution, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.manager.TaskStatus(ctx, taskID)
}

// touch tolerates an absent session id: session binding is optional on
// most MCP calls, required only where state is mutated per session.
func (s *MCPService) touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.manager.TouchMCP(ctx, sessionID)
	return err
}
