package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/engine"
	"github.com/taxis-ai/taxis/pkg/llm"
	"github.com/taxis-ai/taxis/pkg/mcp"
	"github.com/taxis-ai/taxis/pkg/memory"
	memollama "github.com/taxis-ai/taxis/pkg/memory/ollama"
	"github.com/taxis-ai/taxis/pkg/memory/qdrant"
	"github.com/taxis-ai/taxis/pkg/telemetry"
	"github.com/taxis-ai/taxis/providers/anthropic"
	"github.com/taxis-ai/taxis/providers/openai"
)

// buildRegistry resolves every model binding the workflow declares
// against the providers configured in cfg.
func buildRegistry(cfg *config.Config, wf *config.Workflow) (*llm.Registry, error) {
	bindings := make([]llm.Binding, 0, len(wf.Models))
	for name, spec := range wf.Models {
		bindings = append(bindings, llm.Binding{
			Name:        name,
			Provider:    spec.Provider,
			Model:       spec.Model,
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
		})
	}
	return llm.NewRegistry(bindings, func(provider string) (llm.Provider, error) {
		return createProvider(cfg, provider)
	})
}

func createProvider(cfg *config.Config, provider string) (llm.Provider, error) {
	switch strings.ToLower(provider) {
	case "openai":
		opts := []openai.Option{}
		if cfg.Providers.OpenAI.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.Providers.OpenAI.APIKey))
		}
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.New(opts...), nil

	case "anthropic":
		opts := []anthropic.Option{}
		if cfg.Providers.Anthropic.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.Providers.Anthropic.APIKey))
		}
		return anthropic.New(opts...), nil

	case "ollama":
		return llm.NewOllama(cfg.Providers.Ollama.BaseURL), nil

	case "mock":
		return &llm.MockProvider{Response: "This is a mock response."}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}

// buildMemory creates the long-term memory manager, or nil when memory
// is disabled. The engine degrades gracefully without it.
func buildMemory(ctx context.Context, cfg *config.Config) (*memory.Manager, error) {
	if !cfg.Memory.Enabled {
		return nil, nil
	}

	var store memory.VectorStore
	switch strings.ToLower(cfg.Memory.Provider) {
	case "", "qdrant":
		s, err := qdrant.New(cfg.Memory.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		store = s
	case "inprocess":
		store = memory.NewInProcessStore()
	default:
		return nil, fmt.Errorf("unknown memory provider: %s", cfg.Memory.Provider)
	}

	embedder := memollama.NewEmbedder(cfg.Memory.EmbedderBaseURL, cfg.Memory.EmbedderModel)
	manager := memory.NewManager(store, embedder, cfg.Memory.Collection,
		memory.WithRetrieveTimeout(cfg.Memory.RetrieveTimeout),
		memory.WithPersistTimeout(cfg.Memory.PersistTimeout),
	)
	if err := manager.Initialize(ctx); err != nil {
		slog.Warn("long-term memory initialization degraded", slog.String("error", err.Error()))
	}
	return manager, nil
}

// buildMediator connects to the workflow's tool servers, or returns nil
// when none are declared.
func buildMediator(ctx context.Context, wf *config.Workflow) (*mcp.Mediator, error) {
	if len(wf.ToolServers) == 0 {
		return nil, nil
	}
	servers := make([]mcp.ServerConfig, 0, len(wf.ToolServers))
	for _, ts := range wf.ToolServers {
		servers = append(servers, mcp.ServerConfig{
			ID:       ts.ID,
			BaseURL:  ts.URL,
			Protocol: ts.Protocol,
		})
	}
	return mcp.NewMediator(ctx, servers)
}

// buildEngine wires the full execution stack for one workflow. The
// returned cleanup must run after the last Execute call.
func buildEngine(ctx context.Context, cfg *config.Config, wf *config.Workflow) (*engine.Engine, *engine.AuditStore, func(), error) {
	registry, err := buildRegistry(cfg, wf)
	if err != nil {
		return nil, nil, nil, err
	}

	mem, err := buildMemory(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	mediator, err := buildMediator(ctx, wf)
	if err != nil {
		return nil, nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	if mediator != nil {
		cleanups = append(cleanups, func() { _ = mediator.Close() })
	}

	opts := []engine.Option{}
	if mem != nil {
		opts = append(opts, engine.WithMemoryManager(mem))
	}
	if mediator != nil {
		opts = append(opts, engine.WithMediator(mediator))
	}
	if cfg.Engine.MaxToolIterations > 0 {
		opts = append(opts, engine.WithMaxToolIterations(cfg.Engine.MaxToolIterations))
	}

	var audit *engine.AuditStore
	if cfg.Audit.Path != "" {
		audit, err = engine.OpenAuditStore(cfg.Audit.Path)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("audit store: %w", err)
		}
		cleanups = append(cleanups, func() { _ = audit.Close() })
		opts = append(opts, engine.WithEventSink(audit))
	}

	if cfg.Telemetry.Enabled {
		metrics, err := telemetry.NewRunMetrics()
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		opts = append(opts, engine.WithMetrics(metrics))
	}

	eng, err := engine.New(wf, registry, opts...)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return eng, audit, cleanup, nil
}
