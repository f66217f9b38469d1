package quantum

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/cache"
	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/models"
	"github.com/workforcelabs/foreman/pkg/ratelimit"
	"github.com/workforcelabs/foreman/pkg/router"
)

func threads(totals ...float64) []*ThreadResult {
	base := time.Now()
	out := make([]*ThreadResult, len(totals))
	for i, total := range totals {
		out[i] = &ThreadResult{
			Name:        fmt.Sprintf("V%d", i+1),
			VariationID: fmt.Sprintf("v%d", i+1),
			State:       StateCompleted,
			Raw:         "result",
			Scores:      ThreadScores{Total: total},
			completedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func variationsFor(results []*ThreadResult) []*Variation {
	out := make([]*Variation, len(results))
	for i, r := range results {
		out[i] = &Variation{ID: r.VariationID, Name: r.Name, Weight: 1}
	}
	return out
}

func TestCollapseBestScore(t *testing.T) {
	results := threads(0.6, 0.9, 0.75)
	out, err := collapse(BestScore, results, variationsFor(results))
	require.NoError(t, err)
	assert.Equal(t, "V2", out.Selected.Name)
	assert.Equal(t, 0.9, out.FinalScore)
}

func TestCollapseConsensus(t *testing.T) {
	results := threads(0.6, 0.9, 0.75)
	out, err := collapse(Consensus, results, variationsFor(results))
	require.NoError(t, err)
	// Selection is still the arg-max but the score is the mean.
	assert.Equal(t, "V2", out.Selected.Name)
	assert.InDelta(t, 0.75, out.FinalScore, 1e-9)
	assert.InDelta(t, 0.3, out.Confidence, 1e-9)
}

func TestCollapseFirstSuccess(t *testing.T) {
	results := threads(0.6, 0.9, 0.75)
	// V3 finished before the others.
	results[2].completedAt = results[0].completedAt.Add(-time.Minute)
	out, err := collapse(FirstSuccess, results, variationsFor(results))
	require.NoError(t, err)
	assert.Equal(t, "V3", out.Selected.Name)
	assert.Equal(t, 0.75, out.FinalScore)
}

func TestCollapseFirstSuccessAllFailed(t *testing.T) {
	results := threads(0.6, 0.9)
	for _, r := range results {
		r.State = StateFailed
		r.Err = "boom"
	}
	_, err := collapse(FirstSuccess, results, variationsFor(results))
	assert.ErrorIs(t, err, ErrAllThreadsFailed)
}

func TestCollapseCombined(t *testing.T) {
	results := threads(0.5, 0.7)
	out, err := collapse(Combined, results, variationsFor(results))
	require.NoError(t, err)
	assert.Nil(t, out.Selected)
	assert.Len(t, out.Combined, 2)
	assert.InDelta(t, 0.6, out.FinalScore, 1e-9)
	assert.NotEmpty(t, out.Summary)
}

func TestCollapseWeighted(t *testing.T) {
	results := threads(0.9, 0.5)
	variations := variationsFor(results)
	variations[0].Weight = 1
	variations[1].Weight = 3

	out, err := collapse(Weighted, results, variations)
	require.NoError(t, err)
	// final = (1·0.9 + 3·0.5) / 4
	assert.InDelta(t, 0.6, out.FinalScore, 1e-9)
	// argmax of weight·total: 1·0.9 < 3·0.5.
	assert.Equal(t, "V2", out.Selected.Name)
}

func TestCollapseBestScoreTieEarliestWins(t *testing.T) {
	results := threads(0.8, 0.8)
	out, err := collapse(BestScore, results, variationsFor(results))
	require.NoError(t, err)
	assert.Equal(t, "V1", out.Selected.Name)
}

// executor integration below, over a stub provider.

type quantumStub struct {
	name    string
	reg     *models.Registry
	content func(req *llms.Request) string
	delay   time.Duration
}

func (s *quantumStub) Name() string { return s.name }

func (s *quantumStub) Generate(ctx context.Context, req *llms.Request) (*llms.Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llms.Response{
		Content:     s.content(req),
		Model:       req.Model,
		TotalTokens: 10,
		CostUSD:     0.001,
		LatencyMs:   1,
	}, nil
}

func (s *quantumStub) ListModels() []*models.Spec               { return s.reg.ByProvider(s.name) }
func (s *quantumStub) Cost(in, out int, modelID string) float64 { return 0.001 }

func newExecutor(t *testing.T, stub *quantumStub) *Executor {
	t.Helper()
	reg, err := models.NewRegistry([]*models.Spec{{
		Provider: "stub", Model: "m",
		Caps:    []models.Capability{models.CapTextGeneration},
		Quality: 0.8,
	}})
	require.NoError(t, err)
	stub.reg = reg

	c, err := cache.New("", config.CacheConfig{TTL: time.Hour, MaxLocalEntries: 10})
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), config.RateLimitConfig{
		RequestsPerMinute: 1000, RequestsPerHour: 1000, CostPerHourUSD: 1000,
	})
	r := router.New(map[string]llms.Provider{"stub": stub}, reg, c, limiter)
	return NewExecutor(r, nil)
}

func TestExecuteSingleVariationCollapsesToItself(t *testing.T) {
	stub := &quantumStub{name: "stub", content: func(*llms.Request) string {
		return "the only answer"
	}}
	e := newExecutor(t, stub)

	task := NewTask("base prompt", BestScore)
	out, err := e.Execute(context.Background(), task, []*Variation{
		{ID: "v1", Name: "solo", ModelID: "stub/m"},
	})
	require.NoError(t, err)

	assert.Equal(t, "the only answer", out.Selected.Raw)
	assert.Equal(t, out.Selected.Scores.Total, out.FinalScore)
	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, 1.0, task.Progress())
}

func TestExecutePromptMods(t *testing.T) {
	var seen string
	stub := &quantumStub{name: "stub", content: func(req *llms.Request) string {
		seen = req.Prompt
		return "ok"
	}}
	e := newExecutor(t, stub)

	task := NewTask("solve PROBLEM carefully", FirstSuccess)
	_, err := e.Execute(context.Background(), task, []*Variation{{
		ID: "v1", Name: "styled", ModelID: "stub/m",
		Mods: PromptMods{
			Prefix:  "PREFIX",
			Suffix:  "SUFFIX",
			Replace: map[string]string{"PROBLEM": "the equation"},
			Style:   "succinct",
		},
	}})
	require.NoError(t, err)

	assert.Contains(t, seen, "PREFIX\n")
	assert.Contains(t, seen, "solve the equation carefully")
	assert.Contains(t, seen, "\nSUFFIX")
	assert.Contains(t, seen, "Style: succinct")
}

func TestExecuteScoring(t *testing.T) {
	stub := &quantumStub{name: "stub", content: func(*llms.Request) string {
		// 40 characters: completeness 0.4.
		return "0123456789012345678901234567890123456789"
	}}
	e := newExecutor(t, stub)

	task := NewTask("p", BestScore)
	out, err := e.Execute(context.Background(), task, []*Variation{
		{ID: "v1", Name: "v1", ModelID: "stub/m"},
	})
	require.NoError(t, err)

	s := out.Selected.Scores
	assert.Equal(t, 1.0, s.Success)
	assert.InDelta(t, 0.4, s.Completeness, 1e-9)
	assert.InDelta(t, 0.8, s.Accuracy, 1e-9) // 0.8·success
	assert.Greater(t, s.Latency, 0.9)        // near-instant stub
	expected := 0.3*s.Success + 0.2*s.Latency + 0.3*s.Completeness + 0.2*s.Accuracy
	assert.InDelta(t, expected, s.Total, 1e-9)
}

func TestExecuteTimeoutCancelsThreads(t *testing.T) {
	stub := &quantumStub{
		name:    "stub",
		delay:   5 * time.Second,
		content: func(*llms.Request) string { return "late" },
	}
	e := newExecutor(t, stub)

	task := NewTask("p", FirstSuccess)
	task.TimeoutSeconds = 1

	start := time.Now()
	_, err := e.Execute(context.Background(), task, []*Variation{
		{ID: "v1", Name: "v1", ModelID: "stub/m"},
	})
	assert.ErrorIs(t, err, ErrAllThreadsFailed)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateFailed, task.State())
}

func TestValidateRejectsExcessParallelism(t *testing.T) {
	task := NewTask("p", BestScore)
	assert.Error(t, task.Validate(21))

	task.MaxParallel = 50 // still capped at 20
	assert.Error(t, task.Validate(21))
	assert.NoError(t, task.Validate(20))
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	task := NewTask("p", Strategy("majority"))
	assert.Error(t, task.Validate(1))
}

func TestProgressMonotone(t *testing.T) {
	task := NewTask("p", BestScore)
	task.advanceProgress(0.5)
	task.advanceProgress(0.25)
	assert.Equal(t, 0.5, task.Progress())
}
