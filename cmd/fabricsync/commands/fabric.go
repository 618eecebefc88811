package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/stores"
)

func newFabricCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fabric",
		Short: "Manage fabrics",
	}
	cmd.AddCommand(newFabricAddCommand())
	cmd.AddCommand(newFabricListCommand())
	return cmd
}

func newFabricAddCommand() *cobra.Command {
	var (
		name              string
		repoURL           string
		repoRef           string
		repoSubdir        string
		repoCredential    string
		clusterEndpoint   string
		clusterNamespace  string
		clusterCredential string
		syncEnabled       bool
		syncInterval      int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a fabric",
		Long: `Register a fabric with its desired-state repository and, optionally, a
target cluster. A fabric with neither stays in the not_configured status
until one is set.`,
		Example: `  # A fabric synced from a repository every five minutes
  fabricsync fabric add --name dc1 \
    --repo-url git@git.example.com:netops/dc1.git --repo-ref production \
    --repo-subdir fabrics/dc1 --repo-credential dc1-deploy \
    --sync-interval 300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			now := time.Now().UTC()
			fabric := &stores.Fabric{
				ID:                  uuid.NewString(),
				Name:                name,
				RepoURL:             repoURL,
				RepoRef:             repoRef,
				RepoSubdir:          repoSubdir,
				RepoCredentialID:    repoCredential,
				ClusterEndpoint:     clusterEndpoint,
				ClusterNamespace:    clusterNamespace,
				ClusterCredentialID: clusterCredential,
				SyncEnabled:         syncEnabled,
				SyncInterval:        syncInterval,
				SyncStatus:          stores.FabricStatusNotConfigured,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if fabric.RepoConfigured() || fabric.ClusterConfigured() {
				fabric.SyncStatus = stores.FabricStatusPending
			}

			if err := store.CreateFabric(ctx, fabric); err != nil {
				return fmt.Errorf("create fabric: %w", err)
			}

			log.Info().Str("fabric_id", fabric.ID).Str("name", name).Msg("Fabric registered")
			fmt.Printf("Fabric %s registered with id %s (status: %s)\n", name, fabric.ID, fabric.SyncStatus)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "fabric name (required)")
	cmd.Flags().StringVar(&repoURL, "repo-url", "", "desired-state repository URL")
	cmd.Flags().StringVar(&repoRef, "repo-ref", "main", "repository branch or tag")
	cmd.Flags().StringVar(&repoSubdir, "repo-subdir", "", "manifest subdirectory within the repository")
	cmd.Flags().StringVar(&repoCredential, "repo-credential", "", "credential handle for the repository")
	cmd.Flags().StringVar(&clusterEndpoint, "cluster-endpoint", "", "target cluster endpoint")
	cmd.Flags().StringVar(&clusterNamespace, "cluster-namespace", "", "target cluster namespace")
	cmd.Flags().StringVar(&clusterCredential, "cluster-credential", "", "credential handle for the cluster")
	cmd.Flags().BoolVar(&syncEnabled, "sync-enabled", true, "include the fabric in scheduled syncs")
	cmd.Flags().IntVar(&syncInterval, "sync-interval", 300, "sync interval in seconds")

	return cmd
}

func newFabricListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered fabrics",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			fabrics, err := store.ListFabrics(ctx)
			if err != nil {
				return fmt.Errorf("list fabrics: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(fabrics)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tREVISION\tREPO\tSYNC")
			for _, f := range fabrics {
				syncCol := "disabled"
				if f.SyncEnabled {
					syncCol = fmt.Sprintf("every %ds", f.SyncInterval)
				}
				revision := f.DesiredStateRevision
				if len(revision) > 12 {
					revision = revision[:12]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.Name, f.SyncStatus, revision, f.RepoURL, syncCol)
			}
			return w.Flush()
		},
	}
	return cmd
}
