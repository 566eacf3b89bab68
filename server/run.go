// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log"
	"net/http"

	"github.com/rs/cors"

	"github.com/ADML003/Nexus-AgentHack/agent"
	"github.com/ADML003/Nexus-AgentHack/agent/mistral"
	"github.com/ADML003/Nexus-AgentHack/agent/portia"
	"github.com/ADML003/Nexus-AgentHack/tools"
)

// Fallback chain priorities. Lower tries first.
const (
	priorityGemini        = 1
	priorityMistral       = 2
	priorityOpenAI        = 3
	priorityMistralDirect = 4
)

// Run wires the whole backend from environment configuration and serves
// until the listener fails.
func Run() error {
	cfg := LoadConfig()

	log.Printf("Starting nexus-backend v%s (environment: %s)", Version, cfg.Environment)

	registry, toolSource := buildProviders(cfg)
	if registry.Len() == 0 {
		log.Printf("WARNING: no provider API keys configured, all queries will fail")
	} else {
		log.Printf("Providers configured: %v", registry.Names())
	}

	toolRegistry := tools.Load(context.Background(), tools.LoadOptions{
		CatalogPath: cfg.ToolCatalogPath,
		Remote:      toolSource,
	})
	log.Printf("Tool registry loaded: %d tools", toolRegistry.Count())

	orchestrator := agent.NewOrchestrator(
		agent.WithMaxRetries(cfg.MaxRetries),
		agent.WithBaseDelay(cfg.BaseDelay),
		agent.WithAwaitTimeout(cfg.AwaitTimeout),
		agent.WithAttemptObserver(observeAttempt),
	)
	service := agent.NewService(registry, orchestrator)

	auth := NewGitHubAuth(GitHubAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		JWTSecret:    cfg.JWTSecret,
	})
	if auth == nil {
		log.Printf("GitHub OAuth disabled (credentials not configured)")
	}

	srv := NewServer(cfg, service, toolRegistry, auth)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("Listening on port %s", cfg.Port)
	return http.ListenAndServe(":"+cfg.Port, corsHandler.Handler(srv.Router()))
}

// buildProviders constructs the provider registry from whichever API keys
// are present. A missing key skips that provider for the process lifetime;
// there is no runtime re-probe. The second return value is the remote
// tool-registry fetch, nil when no agent-backed provider exists.
func buildProviders(cfg Config) (*agent.Registry, func(ctx context.Context) ([]tools.Tool, error)) {
	var descriptors []agent.Descriptor
	var toolClient *portia.Client

	type backendEntry struct {
		name     string
		backend  string
		key      string
		priority int
	}
	for _, entry := range []backendEntry{
		{name: "gemini", backend: portia.BackendGoogle, key: cfg.GoogleAPIKey, priority: priorityGemini},
		{name: "mistral", backend: portia.BackendMistralAI, key: cfg.MistralAPIKey, priority: priorityMistral},
		{name: "openai", backend: portia.BackendOpenAI, key: cfg.OpenAIAPIKey, priority: priorityOpenAI},
	} {
		provider, err := portia.NewProvider(entry.name, portia.Config{
			APIKey:        cfg.PortiaAPIKey,
			Backend:       entry.backend,
			BackendAPIKey: entry.key,
		})
		if err != nil {
			log.Printf("Provider %s skipped: %v", entry.name, err)
			continue
		}
		descriptors = append(descriptors, agent.Descriptor{
			Name:     entry.name,
			Priority: entry.priority,
			Client:   provider,
		})
		if toolClient == nil {
			toolClient = provider.Client()
		}
	}

	direct, err := mistral.NewProvider(mistral.Config{APIKey: cfg.MistralAPIKey})
	if err != nil {
		log.Printf("Provider mistral-direct skipped: %v", err)
	} else {
		descriptors = append(descriptors, agent.Descriptor{
			Name:     direct.Name(),
			Priority: priorityMistralDirect,
			Client:   direct,
		})
	}

	var remote func(ctx context.Context) ([]tools.Tool, error)
	if toolClient != nil && cfg.PortiaAPIKey != "" {
		client := toolClient
		remote = func(ctx context.Context) ([]tools.Tool, error) {
			listed, err := client.ListTools(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]tools.Tool, len(listed))
			for i, t := range listed {
				out[i] = tools.Tool{ID: t.ID, Name: t.Name, Description: t.Description}
			}
			return out, nil
		}
	}

	return agent.NewRegistry(descriptors...), remote
}
