package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the fabricsync data directory",
		Long: `Initialize the fabricsync data directory with the SQLite database,
per-fabric workspace root and credentials directory.`,
		Example: `  # Initialize under the default data directory
  fabricsync init

  # Initialize with a custom config file
  fabricsync init --config /etc/fabricsync/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			log.Info().Str("data_dir", cfg.DataDir).Msg("Initializing data directory")

			dirs := []string{
				cfg.DataDir,
				cfg.FabricsDir(),
				filepath.Join(cfg.DataDir, "credentials"),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("✓ Initialized database: %s\n", cfg.DatabasePath())

			fmt.Println("\nfabricsync is ready. Add a fabric with 'fabricsync fabric add'.")
			return nil
		},
	}

	return cmd
}
