package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/config"
)

// stubPool runs tasks without a provider: canned outputs keyed by task
// name, optional failures, fixed per-task cost.
type stubPool struct {
	outputs  map[string]map[string]any
	fail     map[string]bool
	costUSD  float64
	blocking bool
}

func (p *stubPool) Resolve(task *Task, agentIDs []string) (string, error) {
	return "stub-agent", nil
}

func (p *stubPool) Execute(ctx context.Context, agentID string, task *Task, wf *Workflow) (map[string]any, error) {
	_ = task.SetState(TaskInProgress)
	if p.blocking {
		<-ctx.Done()
		return nil, ErrCancelled
	}
	if task.CancelRequested() {
		return nil, ErrCancelled
	}
	if p.fail[task.Name] {
		return nil, errors.New("provider exploded")
	}
	task.RecordUsage(100, p.costUSD)
	if out, ok := p.outputs[task.Name]; ok {
		return out, nil
	}
	return map[string]any{"output": "done: " + task.Name}, nil
}

func chainWorkflow(t *testing.T, budget Budget) *Workflow {
	t.Helper()
	w := New("research goal", budget)
	t1 := NewTask("Initial Research")
	t2 := NewTask("Data Analysis")
	t2.DependsOn = []string{t1.ID}
	t3 := NewTask("Report Generation")
	t3.DependsOn = []string{t2.ID}
	for _, task := range []*Task{t1, t2, t3} {
		require.NoError(t, w.AddTask(task))
	}
	return w
}

func fastOrchestrator(pool AgentPool, cfg config.WorkflowConfig) *Orchestrator {
	o := NewOrchestrator(pool, cfg)
	o.tick = 10 * time.Millisecond
	o.grace = 200 * time.Millisecond
	return o
}

func TestRunResearchChain(t *testing.T) {
	pool := &stubPool{
		costUSD: 0.5,
		outputs: map[string]map[string]any{
			"Initial Research":  {"findings": "raw"},
			"Data Analysis":     {"insights": "patterns"},
			"Report Generation": {"report": "final"},
		},
	}
	o := fastOrchestrator(pool, config.WorkflowConfig{})
	w := chainWorkflow(t, Budget{MaxDuration: 30 * time.Minute, MaxCostUSD: 5})

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "raw", res.Outputs["Initial Research"]["findings"])
	assert.Equal(t, "patterns", res.Outputs["Data Analysis"]["insights"])
	assert.Equal(t, "final", res.Outputs["Report Generation"]["report"])
	assert.LessOrEqual(t, res.TotalCost, 5.0)

	// Aggregate totals equal the sum over completed tasks.
	var sum float64
	for _, task := range w.Tasks {
		_, c := task.Usage()
		sum += c
	}
	assert.Equal(t, sum, res.TotalCost)
	assert.Equal(t, 300, res.TotalTokens)
}

func TestRunCascadeCancel(t *testing.T) {
	pool := &stubPool{fail: map[string]bool{"Initial Research": true}}
	o := fastOrchestrator(pool, config.WorkflowConfig{})
	w := chainWorkflow(t, Budget{})

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, res.State)
	assert.Equal(t, []string{"Initial Research"}, res.Failed)
	assert.ElementsMatch(t, []string{"Data Analysis", "Report Generation"}, res.Cancelled)
}

func TestRunFanoutCascade(t *testing.T) {
	// Every downstream task depends on X; X fails; all others cancel.
	pool := &stubPool{fail: map[string]bool{"X": true}}
	o := fastOrchestrator(pool, config.WorkflowConfig{})

	w := New("fanout", Budget{})
	x := NewTask("X")
	require.NoError(t, w.AddTask(x))
	for i := 0; i < 4; i++ {
		d := NewTask(fmt.Sprintf("D%d", i))
		d.DependsOn = []string{x.ID}
		require.NoError(t, w.AddTask(d))
	}

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, StatePartialFailure, res.State)
	assert.Len(t, res.Cancelled, 4)
}

func TestRunContinueOnDependencyFailure(t *testing.T) {
	pool := &stubPool{fail: map[string]bool{"Initial Research": true}}
	o := fastOrchestrator(pool, config.WorkflowConfig{ContinueOnDependencyFailure: true})
	w := chainWorkflow(t, Budget{})

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, res.State)
	assert.Empty(t, res.Cancelled)
	// Downstream tasks are left pending, not cancelled.
	for _, task := range w.Tasks[1:] {
		assert.Equal(t, TaskPending, task.State())
	}
}

func TestRunCostBudgetStops(t *testing.T) {
	// Each task costs $3 against a $5 cap: the second completion trips
	// the budget and the third task never runs.
	pool := &stubPool{costUSD: 3}
	o := fastOrchestrator(pool, config.WorkflowConfig{})
	w := chainWorkflow(t, Budget{MaxCostUSD: 5})

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, res.State)
	assert.Empty(t, res.Failed)
	assert.Contains(t, res.Cancelled, "Report Generation")
	assert.GreaterOrEqual(t, res.TotalCost, 5.0)
}

func TestRunBudgetStopLowCap(t *testing.T) {
	// A cap below the first task's cost: one completion trips the
	// budget, the rest cascade-cancel, and the run is partial.
	pool := &stubPool{costUSD: 1.0}
	o := fastOrchestrator(pool, config.WorkflowConfig{})
	w := chainWorkflow(t, Budget{MaxCostUSD: 0.001})

	res, err := o.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, res.State)
	assert.NotEmpty(t, res.Cancelled)
	assert.GreaterOrEqual(t, res.TotalCost, w.Budget.MaxCostUSD)
}

func TestRunContextCancellation(t *testing.T) {
	pool := &stubPool{blocking: true}
	o := fastOrchestrator(pool, config.WorkflowConfig{})
	w := chainWorkflow(t, Budget{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := o.Run(ctx, w)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, res.State)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Cancelled, 3)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestValidateRejectsCycle(t *testing.T) {
	w := New("cyclic", Budget{})
	a := NewTask("a")
	b := NewTask("b")
	a.DependsOn = []string{b.ID}
	b.DependsOn = []string{a.ID}
	w.Tasks = []*Task{a, b}

	assert.Error(t, w.Validate())
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	w := New("dangling", Budget{})
	a := NewTask("a")
	a.DependsOn = []string{"nope"}
	w.Tasks = []*Task{a}

	assert.Error(t, w.Validate())
}

func TestAddTaskRejectsUnknownDependency(t *testing.T) {
	w := New("g", Budget{})
	a := NewTask("a")
	a.DependsOn = []string{"missing"}
	assert.Error(t, w.AddTask(a))
}

func TestTaskStateMachine(t *testing.T) {
	task := NewTask("t")
	assert.Equal(t, TaskPending, task.State())

	require.NoError(t, task.SetState(TaskInProgress))
	require.NoError(t, task.SetState(TaskRetrying))
	require.NoError(t, task.SetState(TaskInProgress))
	require.NoError(t, task.SetState(TaskCompleted))

	// Terminal states are sticky.
	assert.Error(t, task.SetState(TaskFailed))
	assert.Error(t, task.SetState(TaskInProgress))
	assert.Equal(t, TaskCompleted, task.State())
}

func TestTaskInvalidTransition(t *testing.T) {
	task := NewTask("t")
	assert.Error(t, task.SetState(TaskCompleted))
	assert.Error(t, task.SetState(TaskRetrying))
}
