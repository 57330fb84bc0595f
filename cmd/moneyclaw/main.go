/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cat9999aaa/moneyclaw/internal/agentloop"
	"github.com/cat9999aaa/moneyclaw/internal/config"
	"github.com/cat9999aaa/moneyclaw/internal/conway"
	"github.com/cat9999aaa/moneyclaw/internal/logging"
	"github.com/cat9999aaa/moneyclaw/internal/metrics"
	"github.com/cat9999aaa/moneyclaw/internal/provider"
	"github.com/cat9999aaa/moneyclaw/internal/registry"
	"github.com/cat9999aaa/moneyclaw/internal/replication"
	"github.com/cat9999aaa/moneyclaw/internal/router"
	"github.com/cat9999aaa/moneyclaw/internal/sandbox"
	"github.com/cat9999aaa/moneyclaw/internal/store"
	"github.com/cat9999aaa/moneyclaw/internal/telemetry"
	"github.com/cat9999aaa/moneyclaw/internal/tier"
	"github.com/cat9999aaa/moneyclaw/internal/tools"
)

func main() {
	var configPath string
	var metricsAddr string
	var otelEndpoint string
	var logLevel string
	var devLog bool
	var sandboxBaseDir string
	var genesisPrompt string
	var defaultModel string
	var cheapModel string

	flag.StringVar(&configPath, "config", "", "Path to automaton.json. Defaults to $HOME/.automaton/automaton.json.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":9090", "Address the Prometheus /metrics endpoint binds to. Empty disables it.")
	flag.StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint for tracing (e.g. tempo:4317). Empty disables tracing.")
	flag.StringVar(&logLevel, "log-level", "info", "One of debug, info, warn, error.")
	flag.BoolVar(&devLog, "log-dev", false, "Use a human-readable console log encoder instead of JSON.")
	flag.StringVar(&sandboxBaseDir, "sandbox-base-dir", "./sandboxes", "Directory under which each spawned child gets its own workdir.")
	flag.StringVar(&genesisPrompt, "genesis-prompt", "Spend your credits wisely and pursue your mandate.", "The instructions composed into every turn's prompt.")
	flag.StringVar(&defaultModel, "default-model", "gpt-test", "Model id used outside low-compute mode.")
	flag.StringVar(&cheapModel, "cheap-model", "gpt-test-mini", "Model id used in low_compute and critical tiers.")
	flag.Parse()

	log, err := logging.New(logging.Config{Development: devLog, Level: logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	setupLog := log.WithName("setup")

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "failed to load configuration")
		os.Exit(1)
	}
	setupLog.Info("configuration loaded", "config", cfg.String())

	defaultModelSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "default-model" {
			defaultModelSet = true
		}
	})
	if cfg.InferenceModel != "" && !defaultModelSet {
		defaultModel = cfg.InferenceModel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTraceProvider(ctx, otelEndpoint, cfg.WalletAddress, "0.1.0")
	if err != nil {
		setupLog.Error(err, "failed to initialize trace provider")
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			setupLog.Error(err, "failed to shut down trace provider")
		}
	}()

	s, err := store.Open(cfg.DBPath, log.WithName("store"))
	if err != nil {
		setupLog.Error(err, "failed to open store", "path", cfg.DBPath)
		os.Exit(1)
	}
	defer s.Close()

	if _, err := s.GetIdentity(); err != nil {
		if !store.IsNotFound(err) {
			setupLog.Error(err, "failed to read identity")
			os.Exit(1)
		}
		identity := store.Identity{
			WalletAddress:  cfg.WalletAddress,
			CreatorAddress: cfg.CreatorAddress,
			GenesisPrompt:  genesisPrompt,
		}
		if err := s.InsertIdentity(identity); err != nil {
			setupLog.Error(err, "failed to record identity")
			os.Exit(1)
		}
	}

	r := router.New(s, providerFactory(cfg), defaultModel, log.WithName("router"))

	reg := registry.New(s, log.WithName("registry"))
	if err := reg.SeedDefaults(); err != nil {
		setupLog.Error(err, "failed to seed default model catalogue")
		os.Exit(1)
	}

	discoverers := map[string]registry.Discoverer{
		"openai":    &registry.OpenAICompatibleDiscoverer{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey},
		"anthropic": &registry.AnthropicCompatibleDiscoverer{BaseURL: cfg.AnthropicBaseURL, APIKey: cfg.AnthropicAPIKey},
		"ollama":    &registry.OllamaDiscoverer{BaseURL: cfg.OllamaBaseURL},
	}

	sandboxCap := sandbox.NewLocalProcessCapability(sandboxBaseDir)
	oracle := conway.NewOracle(cfg.ConwayAPIURL, cfg.ConwayAPIKey, nil)
	repl := replication.New(s, sandboxCap, log.WithName("replication")).WithFunder(oracle)

	selfSandboxID, err := sandboxCap.CreateSandbox(ctx)
	if err != nil {
		setupLog.Error(err, "failed to create the automaton's own sandbox")
		os.Exit(1)
	}

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(&tools.SpawnChildTool{Manager: repl})
	toolRegistry.Register(&tools.ExecTool{Capability: sandboxCap, SandboxID: selfSandboxID})
	toolRegistry.Register(&tools.WriteFileTool{Capability: sandboxCap, SandboxID: selfSandboxID})

	thresholds := tier.Thresholds{
		High:     cfg.TierHighThreshold,
		Normal:   cfg.TierNormalThreshold,
		Low:      cfg.TierLowThreshold,
		Critical: cfg.TierCriticalThreshold,
	}

	loop := agentloop.New(agentloop.Config{
		Store:             s,
		Router:            r,
		Replication:       repl,
		Registry:          reg,
		Discoverers:       discoverers,
		Credits:           oracle,
		Tools:             toolRegistry,
		Thresholds:        thresholds,
		GenesisPrompt:      genesisPrompt,
		DefaultModel:      defaultModel,
		CheapModel:        cheapModel,
		Heartbeat:         cfg.HeartbeatInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		ReplicaRetention:  cfg.ReplicaRetention,
		Log:               log.WithName("agentloop"),
	})

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, setupLog)
	}

	setupLog.Info("starting agent loop")
	if err := loop.Run(ctx); err != nil {
		setupLog.Error(err, "agent loop exited with error")
		os.Exit(1)
	}
	setupLog.Info("agent loop exited cleanly")
}

// providerFactory builds the router's ProviderFactory from configuration,
// selecting the HTTP endpoint by registry row provider.
func providerFactory(cfg config.Config) router.ProviderFactory {
	return func(row store.ModelRegistryRow) (provider.Provider, error) {
		switch row.Provider {
		case store.ProviderConway, store.ProviderOpenAI:
			endpoint := cfg.OpenAIBaseURL
			apiKey := cfg.OpenAIAPIKey
			if row.Provider == store.ProviderConway {
				endpoint = cfg.ConwayAPIURL
				apiKey = cfg.ConwayAPIKey
			}
			return provider.NewProvider(provider.ProviderConfig{
				Type:     "openai",
				Endpoint: endpoint,
				APIKey:   apiKey,
			})
		case store.ProviderAnthropic:
			return provider.NewProvider(provider.ProviderConfig{
				Type:     "anthropic",
				Endpoint: cfg.AnthropicBaseURL,
				APIKey:   cfg.AnthropicAPIKey,
			})
		case store.ProviderOllama:
			return provider.NewProvider(provider.ProviderConfig{
				Type:     "ollama",
				Endpoint: cfg.OllamaBaseURL,
			})
		default:
			return nil, fmt.Errorf("unknown provider %q", row.Provider)
		}
	}
}

func serveMetrics(addr string, log interface{ Info(string, ...interface{}) }) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	log.Info("serving metrics", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Info("metrics server stopped", "error", err.Error())
	}
}
