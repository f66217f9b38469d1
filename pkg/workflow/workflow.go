package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the workflow lifecycle.
type State string

const (
	StateDraft          State = "draft"
	StateRunning        State = "running"
	StatePaused         State = "paused"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
	StateStopping       State = "stopping"
	StatePartialFailure State = "partial_failure"
)

// Budget caps one workflow run.
type Budget struct {
	MaxDuration time.Duration `json:"max_duration"`
	MaxCostUSD  float64       `json:"max_cost_usd"`
}

// Consensus holds the debate knobs. Rounds are bookkept but no debate
// protocol runs yet; agreement evaluation happens out of band.
type Consensus struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold,omitempty"`
	MaxRounds int     `json:"max_rounds,omitempty"`
}

// Workflow is one DAG plus its execution bookkeeping. Aggregate totals
// are written only by the supervising orchestrator goroutine.
type Workflow struct {
	ID   string `json:"id"`
	Goal string `json:"goal"`

	// AgentIDs is the pool available for auto-assignment.
	AgentIDs      []string `json:"agent_ids,omitempty"`
	CoordinatorID string   `json:"coordinator_id,omitempty"`

	Tasks     []*Task   `json:"tasks"`
	Budget    Budget    `json:"budget"`
	Consensus Consensus `json:"consensus,omitempty"`

	mu          sync.RWMutex
	state       State
	totalTokens int
	totalCost   float64
	startedAt   time.Time
	finishedAt  time.Time
	stop        bool
}

// New builds a draft workflow.
func New(goal string, budget Budget) *Workflow {
	return &Workflow{
		ID:     uuid.NewString(),
		Goal:   goal,
		Budget: budget,
		state:  StateDraft,
	}
}

// AddTask appends a task after validating its dependency endpoints.
func (w *Workflow) AddTask(t *Task) error {
	ids := map[string]bool{}
	for _, existing := range w.Tasks {
		ids[existing.ID] = true
	}
	for _, dep := range t.DependsOn {
		if !ids[dep] {
			return fmt.Errorf("task %s depends on unknown task %s", t.Name, dep)
		}
	}
	w.Tasks = append(w.Tasks, t)
	return nil
}

// Validate checks the graph: every dependency endpoint present, no
// cycles.
func (w *Workflow) Validate() error {
	byID := make(map[string]*Task, len(w.Tasks))
	for _, t := range w.Tasks {
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range w.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", t.Name, dep)
			}
		}
	}

	// Cycle check by depth-first search with colors.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("task graph contains a cycle through %s", id)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range w.Tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// State returns the workflow state.
func (w *Workflow) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Workflow) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Totals returns the aggregate token and cost counters.
func (w *Workflow) Totals() (tokens int, costUSD float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.totalTokens, w.totalCost
}

// addTotals is called only from the orchestrator loop (single writer).
func (w *Workflow) addTotals(tokens int, costUSD float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalTokens += tokens
	w.totalCost += costUSD
}

// RequestStop sets the workflow-wide stop flag.
func (w *Workflow) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop = true
}

func (w *Workflow) stopRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stop
}

// Remaining returns time left in the duration budget. Before start it
// returns the full budget; zero or negative means exhausted.
func (w *Workflow) Remaining() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.Budget.MaxDuration <= 0 {
		return time.Duration(1<<62 - 1)
	}
	if w.startedAt.IsZero() {
		return w.Budget.MaxDuration
	}
	return w.Budget.MaxDuration - time.Since(w.startedAt)
}

// Duration returns elapsed wall time.
func (w *Workflow) Duration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.startedAt.IsZero() {
		return 0
	}
	if w.finishedAt.IsZero() {
		return time.Since(w.startedAt)
	}
	return w.finishedAt.Sub(w.startedAt)
}

// TaskByID returns the task with the given id.
func (w *Workflow) TaskByID(id string) (*Task, bool) {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
