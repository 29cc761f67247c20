package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aj-archipelago/cortex/internal/config"
	"github.com/aj-archipelago/cortex/internal/files"
	"github.com/aj-archipelago/cortex/internal/obsmetrics"
	"github.com/aj-archipelago/cortex/internal/pathway"
	"github.com/aj-archipelago/cortex/internal/progressbus"
	"github.com/aj-archipelago/cortex/internal/providers"
	"github.com/aj-archipelago/cortex/internal/tokenchunk"
	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// gateway bundles every collaborator the executor and REST surface need,
// built once at startup from the loaded configuration.
type gateway struct {
	cfg        *config.Config
	models     map[string]*cortex.Model
	dispatcher *providers.Registry
	registry   *pathway.Registry
	executor   *pathway.Executor
	metrics    *obsmetrics.Metrics
	metricsReg *prometheus.Registry
	logger     *slog.Logger
}

const defaultEncoding = "cl100k_base"
const defaultEncoderCacheSize = 4096

// buildGateway loads configuration at configPath and wires the vendor
// plugin registry, pathway registry, executor, and metrics, mirroring the
// teacher's runServe: load config, validate, construct the server.
func buildGateway(ctx context.Context, configPath string) (*gateway, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	models, err := cfg.BuildModels()
	if err != nil {
		return nil, fmt.Errorf("build models: %w", err)
	}

	dispatcher, err := buildDispatcher(ctx, models)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	pathwayDefs, err := cfg.BuildPathways()
	if err != nil {
		return nil, fmt.Errorf("build pathways: %w", err)
	}
	registry := pathway.NewRegistry()
	for _, p := range pathwayDefs {
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register pathway %q: %w", p.Name, err)
		}
	}

	encoder, err := tokenchunk.NewEncoder(defaultEncoding, defaultEncoderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build token encoder: %w", err)
	}

	bus := progressbus.New()
	metricsReg := obsmetrics.NewRegistry()
	metrics := obsmetrics.NewMetrics(metricsReg)

	var store *files.Store
	if cfg.Storage.EncryptionKey != "" {
		store = files.NewStore(nil, []byte(cfg.Storage.EncryptionKey))
	}

	executor := pathway.NewExecutor(registry, dispatcher, store, encoder, bus, models)
	executor.Metrics = metrics
	executor.MetricsRegistry = metricsReg

	return &gateway{
		cfg:        cfg,
		models:     models,
		dispatcher: dispatcher,
		registry:   registry,
		executor:   executor,
		metrics:    metrics,
		metricsReg: metricsReg,
		logger:     logger,
	}, nil
}

// buildDispatcher constructs one vendor plugin per distinct cortex.Vendor
// referenced by models, using the first model of that vendor to supply
// credentials (a deployment with per-model credentials within the same
// vendor registers separate logical vendors via the compatible plugin
// instead).
func buildDispatcher(ctx context.Context, models map[string]*cortex.Model) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	seen := make(map[cortex.Vendor]bool)

	for _, m := range models {
		if seen[m.Vendor] {
			continue
		}
		seen[m.Vendor] = true

		switch m.Vendor {
		case cortex.VendorOpenAI:
			registry.Register(m.Vendor, providers.NewOpenAIPlugin(m.APIKey, m.BaseURL))
		case cortex.VendorAnthropic:
			registry.Register(m.Vendor, providers.NewAnthropicPlugin(m.APIKey))
		case cortex.VendorGoogle:
			plugin, err := providers.NewGooglePlugin(ctx, m.APIKey)
			if err != nil {
				return nil, fmt.Errorf("google plugin: %w", err)
			}
			registry.Register(m.Vendor, plugin)
		case cortex.VendorGrok:
			registry.Register(m.Vendor, providers.NewGrokPlugin(m.APIKey, m.BaseURL))
		case cortex.VendorCompatible:
			registry.Register(m.Vendor, providers.NewCompatiblePlugin(m.APIKey, m.BaseURL))
		default:
			return nil, fmt.Errorf("unknown vendor %q on model %q", m.Vendor, m.Name)
		}
	}

	return registry, nil
}
