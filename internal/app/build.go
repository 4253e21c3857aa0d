package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/swarmlab/overseer/internal/agents"
	"github.com/swarmlab/overseer/internal/config"
	"github.com/swarmlab/overseer/internal/coordinator"
	"github.com/swarmlab/overseer/internal/httpapi"
	"github.com/swarmlab/overseer/internal/llm"
	"github.com/swarmlab/overseer/internal/observability"
	"github.com/swarmlab/overseer/internal/store"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Coordinator *coordinator.Coordinator
	Agents      *agents.Client
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the full service from configuration: decision store, model
// adapter, session manager client, coordinator, HTTP surface.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	if strings.TrimSpace(cfg.ManagerURL) == "" {
		return nil, fmt.Errorf("SWARM_MANAGER_URL is required")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	decisionStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("decision store init failed: %w", err)
	}

	brain, err := llm.NewAdapter(llm.Config{
		Mode:    cfg.LLMMode,
		HTTPURL: cfg.LLMHTTPURL,
		CLIPath: cfg.LLMCLIPath,
	})
	if err != nil {
		if decisionStore != nil {
			_ = decisionStore.Close()
		}
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	manager := agents.NewClient(cfg.ManagerURL)

	level, err := coordinator.ParseSupervisionLevel(cfg.Supervision)
	if err != nil {
		if decisionStore != nil {
			_ = decisionStore.Close()
		}
		return nil, err
	}

	coord := coordinator.New(coordinator.Config{
		AutoResolveLimit: cfg.AutoResolveLimit,
		IdleCheckLimit:   cfg.IdleCheckLimit,
		IdleThreshold:    cfg.IdleThreshold,
		DecisionTimeout:  cfg.DecisionTimeout,
		EventBufferCap:   cfg.EventBufferCap,
		Supervision:      level,
	}, manager, brain, metrics, decisionStore)

	api := httpapi.New(cfg, coord, metrics)

	cleanup := func() error {
		coord.Stop()
		if decisionStore != nil {
			_ = decisionStore.Close()
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Coordinator: coord,
		Agents:      manager,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}
