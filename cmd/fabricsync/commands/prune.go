package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/stores"
)

func newPruneCommand() *cobra.Command {
	var (
		kind      string
		namespace string
		name      string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "prune <fabric-id>",
		Short: "Delete orphaned resources from the inventory",
		Long: `Delete orphaned resources from a fabric's inventory. Orphans are never
removed automatically; this is the only way they leave storage.

With --all every orphaned resource is pruned. Otherwise exactly one resource
is addressed by --kind, --namespace and --name, and it must be orphaned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fabricID := args[0]
			if !all && (kind == "" || name == "") {
				return fmt.Errorf("either --all or both --kind and --name are required")
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

			if all {
				resources, err := store.ListManagedResources(ctx, fabricID)
				if err != nil {
					return err
				}
				pruned := 0
				for _, res := range resources {
					if res.State != stores.ResourceStateOrphaned {
						continue
					}
					if err := store.PruneResource(ctx, res.ID); err != nil {
						return fmt.Errorf("prune %s/%s: %w", res.Kind, res.Name, err)
					}
					pruned++
				}
				log.Info().Str("fabric_id", fabricID).Int("pruned", pruned).Msg("Orphans pruned")
				fmt.Printf("Pruned %d orphaned resources\n", pruned)
				return nil
			}

			if namespace == "" {
				namespace = "default"
			}
			key := stores.ResourceKey{Kind: kind, Namespace: namespace, Name: name}
			res, err := store.GetManagedResource(ctx, fabricID, key)
			if err != nil {
				return err
			}
			if res.State != stores.ResourceStateOrphaned {
				return fmt.Errorf("resource %s/%s is %s, only orphaned resources can be pruned",
					kind, name, res.State)
			}
			if err := store.PruneResource(ctx, res.ID); err != nil {
				return err
			}
			fmt.Printf("Pruned %s/%s in namespace %s\n", kind, name, namespace)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "resource kind")
	cmd.Flags().StringVar(&namespace, "namespace", "", "resource namespace (default \"default\")")
	cmd.Flags().StringVar(&name, "name", "", "resource name")
	cmd.Flags().BoolVar(&all, "all", false, "prune every orphaned resource in the fabric")

	return cmd
}
