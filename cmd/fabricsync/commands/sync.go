package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/engine"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <fabric-id>",
		Short: "Run one sync attempt for a fabric",
		Long: `Run one sync attempt for a fabric right now: checkout, ingestion,
reconciliation and status projection. Fails immediately when a sync for the
fabric is already in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fabricID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			tracer, err := newTracer(cfg)
			if err != nil {
				return fmt.Errorf("build tracer: %w", err)
			}
			defer tracer.Shutdown(context.Background())

			orch, _, err := buildOrchestrator(cfg, store, logger, nil, tracer)
			if err != nil {
				return err
			}

			attempt, err := orch.RunSync(ctx, fabricID, "manual")
			if err != nil {
				if engine.IsConcurrency(err) {
					return fmt.Errorf("a sync for fabric %s is already in progress", fabricID)
				}
				if attempt != nil {
					printAttempt(attempt)
				}
				return err
			}

			printAttempt(attempt)
			return nil
		},
	}
	return cmd
}

func printAttempt(attempt *engine.SyncAttempt) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(attempt)
		return
	}

	fmt.Printf("Sync %s for fabric %s in %s\n", attempt.Outcome, attempt.FabricID, attempt.Duration.Round(time.Millisecond))
	if attempt.Revision != "" {
		fmt.Printf("  revision:    %s\n", attempt.Revision)
	}
	fmt.Printf("  tracked:     %d\n", attempt.Tracked)
	fmt.Printf("  quarantined: %d\n", attempt.Quarantined)
	fmt.Printf("  created:     %d\n", attempt.Created)
	fmt.Printf("  updated:     %d\n", attempt.Updated)
	fmt.Printf("  orphaned:    %d\n", attempt.Orphaned)
	if attempt.Error != "" {
		fmt.Printf("  error:       %s\n", attempt.Error)
	}
}
