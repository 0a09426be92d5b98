package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/machshop/extension-orchestrator/pkg/compat"
	"github.com/machshop/extension-orchestrator/pkg/conflict"
	"github.com/machshop/extension-orchestrator/pkg/deploy"
	"github.com/machshop/extension-orchestrator/pkg/extension"
	"github.com/machshop/extension-orchestrator/pkg/registry"
	"github.com/machshop/extension-orchestrator/pkg/stores"
	"github.com/machshop/extension-orchestrator/pkg/telemetry"
)

// appConfig is the YAML configuration file for mesxctl.
type appConfig struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Catalog struct {
		Dir string `yaml:"dir"`
	} `yaml:"catalog"`
	Conflict struct {
		MemoryBudgetMB int `yaml:"memory_budget_mb"`
	} `yaml:"conflict"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

func loadAppConfig() (*appConfig, error) {
	cfg := &appConfig{}
	cfg.Database.Path = "mesx.db"
	cfg.Catalog.Dir = "catalog"
	cfg.Telemetry = telemetry.DefaultConfig()
	cfg.Telemetry.Tracing.Enabled = false
	cfg.Telemetry.Metrics.Enabled = false

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if catalogDir != "" {
		cfg.Catalog.Dir = catalogDir
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	return cfg, nil
}

// app bundles the wired services for one command invocation.
type app struct {
	cfg      *appConfig
	store    *stores.SQLiteStore
	registry *registry.Registry
	catalog  *registry.SiteCatalog
	compat   *compat.Service
	conflict *conflict.Engine
	deploy   *deploy.Service
	log      *telemetry.Logger
	tracer   *telemetry.Tracer
}

// openApp opens the store, runs migrations and builds the service graph.
// Callers must Close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := registry.New(cfg.Catalog.Dir)
	catalog := registry.NewSiteCatalog(cfg.Catalog.Dir, store, reg)

	compatSvc := compat.NewService(store, compat.Options{
		Logger:  log,
		Metrics: metrics,
		Tracer:  tracer,
	})
	conflictEngine := conflict.NewEngine(conflict.Options{
		MemoryBudgetMB: cfg.Conflict.MemoryBudgetMB,
		Logger:         log,
		Metrics:        metrics,
	})
	deploySvc, err := deploy.NewService(deploy.Options{
		Store:     store,
		Compat:    compatSvc,
		Conflicts: conflictEngine,
		Manifests: reg,
		Sites:     catalog,
		Prober:    deploy.NewHTTPProber(catalog.BaseURL),
		Logger:    log,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		registry: reg,
		catalog:  catalog,
		compat:   compatSvc,
		conflict: conflictEngine,
		deploy:   deploySvc,
		log:      log,
		tracer:   tracer,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// tenant builds the tenancy context from the global --site-scope flag.
// Empty scope is the unscoped platform operator.
func tenant() *extension.MultiTenancyContext {
	return &extension.MultiTenancyContext{SiteID: siteScope}
}

// printResult renders v as indented JSON when --json is set, otherwise
// via the supplied human formatter.
func printResult(v any, human func()) error {
	if jsonOutput {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	human()
	return nil
}

// readYAMLFile decodes one YAML file into out.
func readYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
