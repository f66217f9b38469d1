// Copyright 2026 Workforce Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runtime assembles the process: registry, providers, cache,
// limiter, router, agents, orchestrator, quantum executor, sessions,
// consent gate and the HTTP server.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workforcelabs/foreman/pkg/agent"
	"github.com/workforcelabs/foreman/pkg/cache"
	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/consent"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/models"
	"github.com/workforcelabs/foreman/pkg/quantum"
	"github.com/workforcelabs/foreman/pkg/ratelimit"
	"github.com/workforcelabs/foreman/pkg/router"
	"github.com/workforcelabs/foreman/pkg/server"
	"github.com/workforcelabs/foreman/pkg/session"
	"github.com/workforcelabs/foreman/pkg/workflow"
)

// App is the assembled process.
type App struct {
	Cfg      *config.Config
	Registry *models.Registry
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Router   *router.Router
	Pool     *agent.Runtime
	Orch     *workflow.Orchestrator
	Quantum  *quantum.Executor
	Sessions *session.Manager
	MCP      *session.MCPService
	A2A      *session.A2AService
	Gate     *consent.Gate
	Policy   *config.RoutingPolicyFile
	Server   *server.Server

	mu     sync.Mutex
	active map[string]string // workflow id → goal
}

// New assembles an app from config. A failed registry integrity check
// aborts here, before any listener opens.
func New(cfg *config.Config) (*App, error) {
	registry, err := models.LoadCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}
	if err := registry.VerifyIntegrity(requiredModels(cfg)); err != nil {
		return nil, err
	}

	providers, err := llms.BuildProviders(cfg, registry)
	if err != nil {
		return nil, err
	}
	slog.Info("providers ready", "providers", llms.ProviderNames(providers))

	responseCache, err := cache.New(cfg.RedisURL, cfg.Cache)
	if err != nil {
		return nil, err
	}

	var limitStore ratelimit.Store
	var sessionStore session.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		limitStore = ratelimit.NewRedisStore(rdb)
		sessionStore = session.NewRedisStore(rdb)
	} else {
		limitStore = ratelimit.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
	}
	limiter := ratelimit.New(limitStore, cfg.RateLimit)

	rt := router.New(providers, registry, responseCache, limiter)

	agents := agent.NewRuntime(rt)
	if err := registerDefaultAgents(agents, cfg); err != nil {
		return nil, err
	}

	policy, err := config.LoadRoutingPolicy(cfg.RoutingPolicyPath, registry)
	if err != nil {
		return nil, err
	}
	rt.SetPins(policy)

	app := &App{
		Cfg:      cfg,
		Registry: registry,
		Cache:    responseCache,
		Limiter:  limiter,
		Router:   rt,
		Pool:     agents,
		Orch:     workflow.NewOrchestrator(agents, cfg.Workflow),
		Quantum:  quantum.NewExecutor(rt, quantum.DefaultScorer),
		Sessions: session.NewManager(sessionStore, cfg.Session),
		Policy:   policy,
		Gate:     consent.NewGate(limitStore),
		active:   map[string]string{},
	}
	app.MCP = session.NewMCPService(app.Sessions, app, "foreman", Version)
	app.A2A = session.NewA2AService(app.Sessions, app, "foreman", "Foreman Orchestrator")
	app.Server = server.New(cfg.Server, server.Deps{
		MCP:     app.MCP,
		A2A:     app.A2A,
		Manager: app.Sessions,
		Gate:    app.Gate,
		Tools:   app,
		Sampler: app,
	})

	installDefaultPolicies(app.Gate)
	return app, nil
}

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Run recovers orphaned tasks, starts the sweeper and policy watcher,
// and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Sessions.RecoverTasks(ctx); err != nil {
		return fmt.Errorf("task recovery failed: %w", err)
	}
	a.Sessions.Start()
	defer a.Sessions.Stop()

	if err := a.Policy.Watch(); err != nil {
		return err
	}
	defer func() { _ = a.Policy.Close() }()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requiredModels narrows the catalog's minimum-supported set to the
// providers actually configured.
func requiredModels(cfg *config.Config) map[string][]string {
	required := map[string][]string{}
	for provider, ids := range models.DefaultRequired() {
		if cfg.Providers[provider].Enabled() {
			required[provider] = ids
		}
	}
	return required
}

// defaultAgents is the built-in squad available without any agent
// configuration.
func defaultAgents(cfg *config.Config) []*agent.Definition {
	base := func(id, name, role string, caps []string, trust float64) *agent.Definition {
		return &agent.Definition{
			ID:           id,
			Name:         name,
			Role:         role,
			Capabilities: caps,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			Trust:        trust,
		}
	}
	return []*agent.Definition{
		base("researcher-1", "Researcher", "researcher",
			[]string{"research", "summarization", "fact-finding"}, 0.8),
		base("analyst-1", "Analyst", "analyst",
			[]string{"analysis", "data-interpretation", "statistics"}, 0.8),
		base("writer-1", "Writer", "writer",
			[]string{"writing", "report-generation", "editing"}, 0.75),
		base("coder-1", "Coder", "coder",
			[]string{"coding", "debugging", "code-review"}, 0.85),
		base("reviewer-1", "Reviewer", "reviewer",
			[]string{"review", "quality-assurance", "validation"}, 0.9),
		base("coordinator-1", "Coordinator", "coordinator",
			[]string{"planning", "delegation", "coordination"}, 0.9),
	}
}

func registerDefaultAgents(rt *agent.Runtime, cfg *config.Config) error {
	for _, def := range defaultAgents(cfg) {
		if err := rt.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// installDefaultPolicies opens the built-in tools with sensible caps.
// Deployments layer stricter policies on top.
func installDefaultPolicies(gate *consent.Gate) {
	for _, tool := range []string{"execute_agent", "create_workflow", "analyze_system", "quantum_execute"} {
		gate.SetPolicy(&consent.Policy{
			ResourceType:    "tool",
			ResourceName:    tool,
			AutoApprove:     true,
			MaxUsagePerHour: 600,
		})
	}
}

func (a *App) trackWorkflow(id, goal string) {
	a.mu.Lock()
	a.active[id] = goal
	a.mu.Unlock()
}

func (a *App) untrackWorkflow(id string) {
	a.mu.Lock()
	delete(a.active, id)
	a.mu.Unlock()
}
