package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/quantum"
	"github.com/workforcelabs/foreman/pkg/router"
	"github.com/workforcelabs/foreman/pkg/session"
	"github.com/workforcelabs/foreman/pkg/workflow"
)

// Agents implements session.Inventory.
func (a *App) Agents() []session.AgentSummary {
	ids := a.Pool.Agents()
	out := make([]session.AgentSummary, 0, len(ids))
	for _, id := range ids {
		ag, ok := a.Pool.Get(id)
		if !ok {
			continue
		}
		out = append(out, session.AgentSummary{ID: ag.Def.ID, Name: ag.Def.Name, Role: ag.Def.Role})
	}
	return out
}

// ActiveWorkflows implements session.Inventory.
func (a *App) ActiveWorkflows() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for id, goal := range a.active {
		out = append(out, id+": "+goal)
	}
	sort.Strings(out)
	return out
}

// WorkflowTemplates implements session.Inventory.
func (a *App) WorkflowTemplates() []string {
	return []string{"research-pipeline", "code-review", "report-generation"}
}

// MetricsSnapshot implements session.Inventory.
func (a *App) MetricsSnapshot() map[string]any {
	a.mu.Lock()
	activeCount := len(a.active)
	a.mu.Unlock()
	return map[string]any{
		"agents":           len(a.Pool.Agents()),
		"models":           a.Registry.Count(),
		"active_workflows": activeCount,
		"cache_entries":    a.Cache.Len(),
	}
}

// Skills implements session.SkillSource: each agent capability is
// offered at that agent's trust level, best agent wins.
func (a *App) Skills() map[string]float64 {
	skills := map[string]float64{}
	for _, id := range a.Pool.Agents() {
		ag, ok := a.Pool.Get(id)
		if !ok {
			continue
		}
		for _, cap := range ag.Def.Capabilities {
			if ag.Def.Trust > skills[cap] {
				skills[cap] = ag.Def.Trust
			}
		}
	}
	return skills
}

// CreateMessage implements server.Sampler: a routed passthrough call.
func (a *App) CreateMessage(ctx context.Context, model, prompt string, maxTokens int) (*llms.Response, error) {
	return a.Router.Execute(ctx, &llms.Request{
		Prompt:    prompt,
		Model:     model,
		MaxTokens: maxTokens,
	}, &router.Policy{UseCache: false})
}

type executeAgentArgs struct {
	AgentID string `mapstructure:"agent_id"`
	Input   string `mapstructure:"input"`
}

type workflowTaskArgs struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	AgentID     string         `mapstructure:"agent_id"`
	DependsOn   []string       `mapstructure:"depends_on"`
	Input       map[string]any `mapstructure:"input"`
}

type createWorkflowArgs struct {
	Goal               string             `mapstructure:"goal"`
	Tasks              []workflowTaskArgs `mapstructure:"tasks"`
	MaxCostUSD         float64            `mapstructure:"max_cost_usd"`
	MaxDurationSeconds int                `mapstructure:"max_duration_seconds"`
	Consensus          bool               `mapstructure:"consensus"`
	ConsensusThreshold float64            `mapstructure:"consensus_threshold"`
	MaxDebateRounds    int                `mapstructure:"max_debate_rounds"`
}

type variationArgs struct {
	Name        string            `mapstructure:"name"`
	ModelID     string            `mapstructure:"model_id"`
	AgentRole   string            `mapstructure:"agent_role"`
	Prefix      string            `mapstructure:"prefix"`
	Suffix      string            `mapstructure:"suffix"`
	Style       string            `mapstructure:"style"`
	Replace     map[string]string `mapstructure:"replace"`
	Temperature float64           `mapstructure:"temperature"`
	Weight      float64           `mapstructure:"weight"`
}

type quantumArgs struct {
	Prompt         string          `mapstructure:"prompt"`
	Strategy       string          `mapstructure:"strategy"`
	Variations     []variationArgs `mapstructure:"variations"`
	MaxParallel    int             `mapstructure:"max_parallel"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
}

// RunTool implements server.ToolRunner.
func (a *App) RunTool(ctx context.Context, name string, args map[string]any, progress func(session.ProgressEvent)) (map[string]any, error) {
	switch name {
	case "execute_agent":
		return a.runExecuteAgent(ctx, args, progress)
	case "create_workflow":
		return a.runCreateWorkflow(ctx, args, progress)
	case "quantum_execute":
		return a.runQuantum(ctx, args, progress)
	case "analyze_system":
		progress(session.ProgressEvent{Progress: 0.5, Message: "collecting"})
		return a.MetricsSnapshot(), nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func (a *App) runExecuteAgent(ctx context.Context, args map[string]any, progress func(session.ProgressEvent)) (map[string]any, error) {
	var in executeAgentArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("invalid execute_agent arguments: %w", err)
	}
	if in.AgentID == "" || in.Input == "" {
		return nil, fmt.Errorf("execute_agent requires agent_id and input")
	}

	wf := workflow.New("execute "+in.AgentID, workflow.Budget{})
	t := workflow.NewTask("Agent Task")
	t.AgentID = in.AgentID
	t.Input = map[string]any{"input": in.Input}
	if err := wf.AddTask(t); err != nil {
		return nil, err
	}

	progress(session.ProgressEvent{Progress: 0.2, Total: 1, Message: "dispatching"})
	out, err := a.Pool.Execute(ctx, in.AgentID, t, wf)
	if err != nil {
		return nil, err
	}
	progress(session.ProgressEvent{Progress: 0.9, Total: 1, Completed: 1})
	return out, nil
}

func (a *App) runCreateWorkflow(ctx context.Context, args map[string]any, progress func(session.ProgressEvent)) (map[string]any, error) {
	var in createWorkflowArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("invalid create_workflow arguments: %w", err)
	}
	if in.Goal == "" {
		return nil, fmt.Errorf("create_workflow requires a goal")
	}

	budget := workflow.Budget{
		MaxCostUSD:  in.MaxCostUSD,
		MaxDuration: time.Duration(in.MaxDurationSeconds) * time.Second,
	}
	if budget.MaxCostUSD == 0 {
		budget.MaxCostUSD = a.Cfg.Workflow.MaxCostUSD
	}
	if budget.MaxDuration == 0 {
		budget.MaxDuration = a.Cfg.Workflow.MaxDuration
	}

	wf := workflow.New(in.Goal, budget)
	wf.AgentIDs = a.Pool.Agents()
	if in.Consensus {
		wf.Consensus = workflow.Consensus{
			Enabled:   true,
			Threshold: in.ConsensusThreshold,
			MaxRounds: in.MaxDebateRounds,
		}
	}

	// dependencies reference task names; resolve to ids in declaration
	// order
	byName := map[string]string{}
	for _, spec := range in.Tasks {
		t := workflow.NewTask(spec.Name)
		t.Description = spec.Description
		t.AgentID = spec.AgentID
		t.Input = spec.Input
		for _, dep := range spec.DependsOn {
			id, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", spec.Name, dep)
			}
			t.DependsOn = append(t.DependsOn, id)
		}
		if err := wf.AddTask(t); err != nil {
			return nil, err
		}
		byName[spec.Name] = t.ID
	}

	a.trackWorkflow(wf.ID, wf.Goal)
	defer a.untrackWorkflow(wf.ID)

	// relay DAG progress while the orchestrator runs
	total := len(wf.Tasks)
	pollDone := make(chan struct{})
	defer close(pollDone)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				terminal := 0
				for _, t := range wf.Tasks {
					if t.State().Terminal() {
						terminal++
					}
				}
				progress(session.ProgressEvent{
					Progress:  float64(terminal) / float64(total) * 0.95,
					Total:     total,
					Completed: terminal,
				})
			case <-pollDone:
				return
			}
		}
	}()

	result, err := a.Orch.Run(ctx, wf)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"workflow_id":     wf.ID,
		"state":           string(result.State),
		"outputs":         result.Outputs,
		"total_tokens":    result.TotalTokens,
		"total_cost_usd":  result.TotalCost,
		"failed_tasks":    result.Failed,
		"cancelled_tasks": result.Cancelled,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if wf.Consensus.Enabled {
		out["consensus"] = map[string]any{
			"threshold":  wf.Consensus.Threshold,
			"max_rounds": wf.Consensus.MaxRounds,
		}
	}
	return out, nil
}

func (a *App) runQuantum(ctx context.Context, args map[string]any, progress func(session.ProgressEvent)) (map[string]any, error) {
	var in quantumArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("invalid quantum_execute arguments: %w", err)
	}

	task := quantum.NewTask(in.Prompt, quantum.Strategy(in.Strategy))
	task.MaxParallel = in.MaxParallel
	task.TimeoutSeconds = in.TimeoutSeconds

	variations := make([]*quantum.Variation, 0, len(in.Variations))
	for i, v := range in.Variations {
		variations = append(variations, &quantum.Variation{
			ID:        fmt.Sprintf("v%d", i+1),
			Name:      v.Name,
			AgentRole: v.AgentRole,
			ModelID:   v.ModelID,
			Mods: quantum.PromptMods{
				Prefix:  v.Prefix,
				Suffix:  v.Suffix,
				Replace: v.Replace,
				Style:   v.Style,
			},
			Temperature: v.Temperature,
			Weight:      v.Weight,
		})
	}

	pollDone := make(chan struct{})
	defer close(pollDone)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				progress(session.ProgressEvent{
					Progress: task.Progress() * 0.95,
					Total:    len(variations),
				})
			case <-pollDone:
				return
			}
		}
	}()

	outcome, err := a.Quantum.Execute(ctx, task, variations)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"task_id":      task.ID,
		"strategy":     string(outcome.Strategy),
		"final_score":  outcome.FinalScore,
		"summary":      outcome.Summary,
		"wall_time_ms": task.WallTime().Milliseconds(),
	}
	if outcome.Selected != nil {
		out["selected"] = map[string]any{
			"variation": outcome.Selected.VariationID,
			"response":  outcome.Selected.Raw,
			"model":     outcome.Selected.ModelUsed,
			"score":     outcome.Selected.Scores.Total,
		}
	}
	if outcome.Confidence > 0 {
		out["confidence"] = outcome.Confidence
	}
	if len(outcome.Combined) > 0 {
		out["combined"] = outcome.Combined
	}
	return out, nil
}
