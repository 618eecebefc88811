package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/engine"
	"github.com/openfabric/fabricsync/pkg/repo"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <fabric-id>",
		Short: "Test repository connectivity for a fabric",
		Long: `Test that a fabric's desired-state repository is reachable and its pinned
ref exists. Nothing is cloned and nothing is written; the remote's advertised
refs are listed with the fabric's credentials and the ref is resolved.`,
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

			fabric, err := store.GetFabric(ctx, fabricID)
			if err != nil {
				return err
			}
			if !fabric.RepoConfigured() {
				return fmt.Errorf("fabric %s has no repository configured", fabric.Name)
			}

			client := repo.NewGitClient(repo.NewFileCredentialProvider(cfg.DataDir), cfg.Sync.WorkdirBase)
			revision, err := client.TestConnection(ctx, engine.CheckoutSpec{
				URL:              fabric.RepoURL,
				Ref:              fabric.RepoRef,
				CredentialHandle: fabric.RepoCredentialID,
			})
			if err != nil {
				return fmt.Errorf("connectivity check failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{
					"fabric_id": fabric.ID,
					"url":       fabric.RepoURL,
					"ref":       fabric.RepoRef,
					"revision":  revision,
				})
			}

			fmt.Printf("Repository %s reachable\n", fabric.RepoURL)
			fmt.Printf("  ref:      %s\n", fabric.RepoRef)
			fmt.Printf("  revision: %s\n", revision)
			return nil
		},
	}
	return cmd
}
