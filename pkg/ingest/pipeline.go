package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfabric/fabricsync/pkg/manifest"
	"github.com/openfabric/fabricsync/pkg/stores"
	"github.com/openfabric/fabricsync/pkg/telemetry"
)

// RecordStore persists ingestion audit records.
type RecordStore interface {
	AppendIngestionRecord(ctx context.Context, rec *stores.IngestionRecord) error
}

// PolicyGate vets recognized documents before they are tracked. A non-nil
// error quarantines the file.
type PolicyGate interface {
	Check(ctx context.Context, doc *manifest.Document) error
}

// Result summarises one pipeline run over a fabric's drop zone.
type Result struct {
	Tracked     int
	Quarantined int

	// Records are the audit entries emitted during the run, in order.
	Records []*stores.IngestionRecord

	// Errors are per-file I/O failures. A failed file stays in the drop
	// zone and is retried on the next run.
	Errors []error
}

// ParsedSet is the parsed content of a fabric's tracked area.
type ParsedSet struct {
	Documents []*manifest.ParsedDocument
}

// Recognized returns the documents accepted into the desired state.
func (s *ParsedSet) Recognized() []*manifest.Document {
	var docs []*manifest.Document
	for _, d := range s.Documents {
		if d.Class == manifest.ClassRecognized {
			docs = append(docs, &d.Document)
		}
	}
	return docs
}

// Config assembles a Pipeline.
type Config struct {
	// BaseDir is the directory holding per-fabric workspaces.
	BaseDir string

	Parser *manifest.Parser

	// Gate is optional; nil skips policy checks.
	Gate PolicyGate

	Store   RecordStore
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Pipeline classifies drop-zone manifests and relocates them whole. Files
// are only ever moved, never rewritten, and every decision leaves an audit
// record.
type Pipeline struct {
	baseDir string
	parser  *manifest.Parser
	gate    PolicyGate
	store   RecordStore
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("ingestion base directory is required")
	}
	if cfg.Parser == nil {
		return nil, fmt.Errorf("manifest parser is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Pipeline{
		baseDir: cfg.BaseDir,
		parser:  cfg.Parser,
		gate:    cfg.Gate,
		store:   cfg.Store,
		logger:  logger.NewComponentLogger("ingest"),
		metrics: cfg.Metrics,
	}, nil
}

// Layout returns the workspace layout for a fabric.
func (p *Pipeline) Layout(fabricID string) *Layout {
	return NewLayout(p.baseDir, fabricID)
}

// Stage copies new or changed manifests from a repository checkout into the
// fabric's drop zone and removes tracked manifests that are no longer in the
// checkout. Unchanged manifests are left alone, so staging the same revision
// twice stages nothing.
func (p *Pipeline) Stage(ctx context.Context, fabric *stores.Fabric, checkoutRoot string, files []string) (int, error) {
	layout := p.Layout(fabric.ID)
	if err := layout.Ensure(); err != nil {
		return 0, err
	}

	sourceRoot := checkoutRoot
	if fabric.RepoSubdir != "" {
		sourceRoot = filepath.Join(checkoutRoot, fabric.RepoSubdir)
	}

	inCheckout := make(map[string]struct{}, len(files))
	staged := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return staged, err
		}
		inCheckout[rel] = struct{}{}

		src := filepath.Join(sourceRoot, rel)
		content, err := os.ReadFile(src)
		if err != nil {
			return staged, fmt.Errorf("read checkout manifest %s: %w", rel, err)
		}

		if same, err := fileHasContent(filepath.Join(layout.TrackedDir(), rel), content); err != nil {
			return staged, err
		} else if same {
			continue
		}

		dst := filepath.Join(layout.DropDir(), rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return staged, fmt.Errorf("stage manifest %s: %w", rel, err)
		}
		if err := os.WriteFile(dst, content, 0644); err != nil {
			return staged, fmt.Errorf("stage manifest %s: %w", rel, err)
		}
		staged++
	}

	// Tracked manifests that left the checkout are retired. Their managed
	// resources surface as orphaned on the next reconcile.
	retired, err := p.retireMissing(layout, inCheckout)
	if err != nil {
		return staged, err
	}
	if retired > 0 {
		p.logger.WithFabricID(fabric.ID).Infof("retired %d tracked manifests no longer in checkout", retired)
	}

	return staged, nil
}

// Run processes every file currently in the fabric's drop zone. Each file is
// classified and moved whole to the tracked or quarantine area. A file that
// cannot be processed for I/O reasons stays put and is reported in the
// result; it never blocks the rest of the batch.
func (p *Pipeline) Run(ctx context.Context, fabric *stores.Fabric) (*Result, error) {
	layout := p.Layout(fabric.ID)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	files, err := walkFiles(layout.DropDir())
	if err != nil {
		return nil, fmt.Errorf("scan drop zone: %w", err)
	}

	result := &Result{}
	log := p.logger.WithFabricID(fabric.ID)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.processFile(ctx, fabric, layout, rel, result); err != nil {
			log.WithError(err).Warnf("ingestion failed for %s, leaving in drop zone", rel)
			result.Errors = append(result.Errors, err)
		}
	}

	log.Infof("ingestion pass complete: %d tracked, %d quarantined, %d failed",
		result.Tracked, result.Quarantined, len(result.Errors))
	return result, nil
}

func (p *Pipeline) processFile(ctx context.Context, fabric *stores.Fabric, layout *Layout, rel string, result *Result) error {
	src := filepath.Join(layout.DropDir(), rel)
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	outcome, reason := p.classify(ctx, content, rel)

	var dst string
	switch outcome {
	case stores.IngestionOutcomeTracked:
		dst = filepath.Join(layout.TrackedDir(), rel)
	case stores.IngestionOutcomeQuarantined:
		dst = quarantinePath(layout, rel)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("prepare destination for %s: %w", rel, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", rel, err)
	}

	rec := &stores.IngestionRecord{
		FabricID:   fabric.ID,
		SourcePath: rel,
		DestPath:   dst,
		Outcome:    outcome,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	p.record(ctx, layout, rec)
	result.Records = append(result.Records, rec)

	switch outcome {
	case stores.IngestionOutcomeTracked:
		result.Tracked++
	case stores.IngestionOutcomeQuarantined:
		result.Quarantined++
	}
	if p.metrics != nil {
		p.metrics.RecordIngestionOutcome(fabric.ID, string(outcome))
	}
	return nil
}

// classify decides the fate of one drop-zone file. The whole file is judged
// at once: a single invalid or unrecognized document quarantines it, because
// files are never split to salvage the good documents.
func (p *Pipeline) classify(ctx context.Context, content []byte, rel string) (stores.IngestionOutcome, string) {
	docs, err := p.parser.ParseAll(content, rel)
	if err != nil {
		var synErr *manifest.SyntaxError
		if errors.As(err, &synErr) {
			return stores.IngestionOutcomeQuarantined, fmt.Sprintf("unparsable YAML: %v", synErr.Err)
		}
		return stores.IngestionOutcomeQuarantined, fmt.Sprintf("unreadable manifest: %v", err)
	}
	if len(docs) == 0 {
		return stores.IngestionOutcomeQuarantined, "no manifest documents"
	}

	for _, d := range docs {
		if d.Class != manifest.ClassRecognized {
			return stores.IngestionOutcomeQuarantined, d.Reason
		}
	}

	if p.gate != nil {
		for _, d := range docs {
			if err := p.gate.Check(ctx, &d.Document); err != nil {
				return stores.IngestionOutcomeQuarantined, fmt.Sprintf("policy violation: %v", err)
			}
		}
	}

	return stores.IngestionOutcomeTracked, "valid recognized resource"
}

// record appends the decision to the store and the fabric's ingestion log.
// Audit failures are logged but never undo a completed move.
func (p *Pipeline) record(ctx context.Context, layout *Layout, rec *stores.IngestionRecord) {
	if err := p.store.AppendIngestionRecord(ctx, rec); err != nil {
		p.logger.WithError(err).Warnf("ingestion record not persisted for %s", rec.SourcePath)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(layout.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		p.logger.WithError(err).Warn("ingestion log not writable")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		p.logger.WithError(err).Warn("ingestion log append failed")
	}
}

// ParseTracked parses every manifest in the fabric's tracked area. Tracked
// files were validated on the way in, so a syntax error here means the area
// was modified out of band.
func (p *Pipeline) ParseTracked(ctx context.Context, fabric *stores.Fabric) (*ParsedSet, error) {
	layout := p.Layout(fabric.ID)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	files, err := walkFiles(layout.TrackedDir())
	if err != nil {
		return nil, fmt.Errorf("scan tracked area: %w", err)
	}

	set := &ParsedSet{}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(filepath.Join(layout.TrackedDir(), rel))
		if err != nil {
			return nil, fmt.Errorf("read tracked manifest %s: %w", rel, err)
		}
		docs, err := p.parser.ParseAll(content, rel)
		if err != nil {
			return nil, fmt.Errorf("tracked manifest %s modified out of band: %w", rel, err)
		}
		set.Documents = append(set.Documents, docs...)
	}
	return set, nil
}

func (p *Pipeline) retireMissing(layout *Layout, inCheckout map[string]struct{}) (int, error) {
	files, err := walkFiles(layout.TrackedDir())
	if err != nil {
		return 0, fmt.Errorf("scan tracked area: %w", err)
	}
	retired := 0
	for _, rel := range files {
		if _, ok := inCheckout[rel]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(layout.TrackedDir(), rel)); err != nil {
			return retired, fmt.Errorf("retire tracked manifest %s: %w", rel, err)
		}
		retired++
	}
	return retired, nil
}

// quarantinePath picks a destination in the quarantine area, suffixing the
// file name with a timestamp when an earlier quarantined copy is in the way.
func quarantinePath(layout *Layout, rel string) string {
	dst := filepath.Join(layout.QuarantineDir(), rel)
	if _, err := os.Stat(dst); err != nil {
		return dst
	}
	ext := filepath.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	stamped := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return filepath.Join(layout.QuarantineDir(), stamped)
}

// walkFiles returns the relative paths of all regular files under root.
// A missing root yields an empty list.
func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// fileHasContent reports whether path exists with exactly the given content,
// compared by SHA-256.
func fileHasContent(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return sha256.Sum256(existing) == sha256.Sum256(content), nil
}
