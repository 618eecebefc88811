package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/config"
	"github.com/openfabric/fabricsync/pkg/engine"
	"github.com/openfabric/fabricsync/pkg/ingest"
	"github.com/openfabric/fabricsync/pkg/manifest"
	"github.com/openfabric/fabricsync/pkg/policy"
	"github.com/openfabric/fabricsync/pkg/repo"
	"github.com/openfabric/fabricsync/pkg/stores"
	"github.com/openfabric/fabricsync/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fabricsync",
		Short: "FabricSync - GitOps reconciliation for network fabrics",
		Long: `FabricSync keeps network fabric inventories in step with their declared
state. Manifests are pulled from a pinned repository ref, classified through
an ingestion pipeline, and reconciled into a per-fabric resource inventory
with drift and lifecycle status tracking.

Features:
  - Per-fabric Git-backed desired state at a pinned ref
  - Drop zone / tracked / quarantine ingestion with an audit log
  - CUE schema validation and OPA policy gates for manifests
  - Drift detection across declared, tracked and observed state
  - Interval scheduling with per-fabric sync locks`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newFabricCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newPruneCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// openStore opens and migrates the SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return store, nil
}

// newLogger builds the telemetry logger from the loaded configuration.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.Telemetry.LogLevel,
		Format: cfg.Telemetry.LogFormat,
		Output: cfg.Telemetry.LogOutput,
	})
}

// newTracer builds the trace provider from the loaded configuration. The
// caller owns Shutdown.
func newTracer(cfg *config.Config) (*telemetry.Tracer, error) {
	tc := telemetry.DefaultConfig().Tracing
	tc.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		tc.Exporter = cfg.Telemetry.TracingExporter
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tc.Endpoint = cfg.Telemetry.TracingEndpoint
	}
	return telemetry.NewTracer(tc, "fabricsync", appVersion, "production")
}

// buildOrchestrator wires the full sync stack: parser, policy gate,
// ingestion pipeline, repository client and orchestrator.
func buildOrchestrator(cfg *config.Config, store *stores.SQLiteStore, logger *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) (*engine.Orchestrator, *ingest.Pipeline, error) {
	schemas, err := manifest.NewSchemaRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest schemas: %w", err)
	}
	parser := manifest.NewParser(schemas)

	gate, err := policy.NewEngine(logger.Zerolog())
	if err != nil {
		return nil, nil, fmt.Errorf("load policies: %w", err)
	}

	pipeline, err := ingest.NewPipeline(ingest.Config{
		BaseDir: cfg.FabricsDir(),
		Parser:  parser,
		Gate:    gate,
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build ingestion pipeline: %w", err)
	}

	gitClient := repo.NewGitClient(repo.NewFileCredentialProvider(cfg.DataDir), cfg.Sync.WorkdirBase)

	orch, err := engine.NewOrchestrator(engine.OrchestratorConfig{
		Store:          store,
		Repos:          gitClient,
		Ingestor:       pipeline,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		AttemptTimeout: cfg.Sync.AttemptTimeout,
		MaxRetries:     cfg.Sync.MaxRetries,
		RetryBaseDelay: cfg.Sync.RetryBaseDelay,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch, pipeline, nil
}
