package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		showRecords  int
		showResource bool
	)

	cmd := &cobra.Command{
		Use:   "status <fabric-id>",
		Short: "Show a fabric's sync status and resource inventory",
		Args:  cobra.ExactArgs(1),
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

			fabric, err := store.GetFabric(ctx, fabricID)
			if err != nil {
				return err
			}
			resources, err := store.ListManagedResources(ctx, fabricID)
			if err != nil {
				return err
			}

			var records []*stores.IngestionRecord
			if showRecords > 0 {
				records, err = store.ListIngestionRecords(ctx, fabricID, showRecords, 0)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"fabric":            fabric,
					"resources":         resources,
					"ingestion_records": records,
				})
			}

			fmt.Printf("Fabric %s (%s)\n", fabric.Name, fabric.ID)
			fmt.Printf("  status:   %s\n", fabric.SyncStatus)
			if fabric.SyncStatusMessage != nil && *fabric.SyncStatusMessage != "" {
				fmt.Printf("  message:  %s\n", *fabric.SyncStatusMessage)
			}
			if fabric.DesiredStateRevision != "" {
				fmt.Printf("  revision: %s\n", fabric.DesiredStateRevision)
			}
			if fabric.LastRepoSyncAt != nil {
				fmt.Printf("  last sync: %s\n", fabric.LastRepoSyncAt.Format("2006-01-02 15:04:05 MST"))
			}

			counts := map[stores.ResourceSyncState]int{}
			for _, res := range resources {
				counts[res.State]++
			}
			fmt.Printf("\nResources: %d total", len(resources))
			for _, state := range []stores.ResourceSyncState{
				stores.ResourceStateDraft,
				stores.ResourceStateCommitted,
				stores.ResourceStateDrifted,
				stores.ResourceStateOrphaned,
			} {
				if counts[state] > 0 {
					fmt.Printf(", %d %s", counts[state], state)
				}
			}
			fmt.Println()

			if showResource && len(resources) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KIND\tNAMESPACE\tNAME\tSTATE\tERROR")
				for _, res := range resources {
					errCol := ""
					if res.SyncError != nil {
						errCol = *res.SyncError
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						res.Kind, res.Namespace, res.Name, res.State, errCol)
				}
				w.Flush()
			}

			if len(records) > 0 {
				fmt.Printf("\nRecent ingestion decisions:\n")
				for _, rec := range records {
					fmt.Printf("  %s  %-11s %s (%s)\n",
						rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Outcome, rec.SourcePath, rec.Reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&showRecords, "records", 10, "number of recent ingestion records to show (0 disables)")
	cmd.Flags().BoolVar(&showResource, "resources", false, "list every managed resource")

	return cmd
}
