// Package ingest moves manifests from a fabric's drop zone into its tracked
// or quarantine area and records every decision in an append-only audit log.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dropDirName       = "drop"
	trackedDirName    = "tracked"
	quarantineDirName = "quarantine"
	logFileName       = "ingestion.log"
)

// Layout is the on-disk workspace of one fabric. All ingestion areas live
// under a single fabric root so a move between areas never crosses
// filesystems.
type Layout struct {
	root string
}

// NewLayout returns the workspace layout for a fabric rooted at
// <baseDir>/<fabricID>.
func NewLayout(baseDir, fabricID string) *Layout {
	return &Layout{root: filepath.Join(baseDir, fabricID)}
}

// Root returns the fabric workspace root.
func (l *Layout) Root() string { return l.root }

// DropDir is where new manifests land before classification.
func (l *Layout) DropDir() string { return filepath.Join(l.root, dropDirName) }

// TrackedDir holds manifests accepted into the desired state.
func (l *Layout) TrackedDir() string { return filepath.Join(l.root, trackedDirName) }

// QuarantineDir holds rejected manifests kept for operator review.
func (l *Layout) QuarantineDir() string { return filepath.Join(l.root, quarantineDirName) }

// LogPath is the fabric's append-only ingestion log.
func (l *Layout) LogPath() string { return filepath.Join(l.root, logFileName) }

// Ensure creates the workspace directories if they do not exist.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.DropDir(), l.TrackedDir(), l.QuarantineDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create ingestion dir %s: %w", dir, err)
		}
	}
	return nil
}
