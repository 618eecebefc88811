package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/manifest"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate manifest files",
		Long: `Validate manifest files the way the ingestion pipeline would, without
moving anything: YAML syntax, document shape, supported kinds and per-kind
spec schemas.`,
		Example: `  # Validate manifests in the current directory
  fabricsync validate

  # Validate a single file
  fabricsync validate ./manifests/vpc-1.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			schemas, err := manifest.NewSchemaRegistry()
			if err != nil {
				return fmt.Errorf("load manifest schemas: %w", err)
			}
			parser := manifest.NewParser(schemas)

			files, err := collectManifestPaths(path)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no manifest files under %s", path)
			}

			problems := 0
			for _, file := range files {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}

				docs, err := parser.ParseAll(content, file)
				if err != nil {
					var synErr *manifest.SyntaxError
					if errors.As(err, &synErr) {
						fmt.Printf("✗ %s: unparsable YAML: %v\n", file, synErr.Err)
						problems++
						continue
					}
					return err
				}

				for _, doc := range docs {
					switch doc.Class {
					case manifest.ClassRecognized:
						fmt.Printf("✓ %s: %s/%s\n", file, doc.Document.Kind, doc.Document.Metadata.Name)
					case manifest.ClassUnrecognized:
						fmt.Printf("- %s: skipped (%s)\n", file, doc.Reason)
					case manifest.ClassInvalid:
						fmt.Printf("✗ %s: %s\n", file, doc.Reason)
						problems++
					}
				}
			}

			if problems > 0 {
				return fmt.Errorf("%d invalid manifest documents", problems)
			}
			log.Info().Int("files", len(files)).Msg("Validation passed")
			return nil
		},
	}
	return cmd
}

func collectManifestPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
