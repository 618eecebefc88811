package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfabric/fabricsync/pkg/manifest"
	"github.com/openfabric/fabricsync/pkg/stores"
)

// memoryRecordStore collects ingestion records in memory.
type memoryRecordStore struct {
	mu      sync.Mutex
	records []*stores.IngestionRecord
}

func (s *memoryRecordStore) AppendIngestionRecord(_ context.Context, rec *stores.IngestionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, rec)
	return nil
}

// rejectAllGate quarantines every document it sees.
type rejectAllGate struct{}

func (rejectAllGate) Check(_ context.Context, doc *manifest.Document) error {
	return fmt.Errorf("policy: %s is not welcome here", doc.Metadata.Name)
}

func setupTestPipeline(t *testing.T) (*Pipeline, *memoryRecordStore) {
	t.Helper()

	schemas, err := manifest.NewSchemaRegistry()
	if err != nil {
		t.Fatalf("failed to create schema registry: %v", err)
	}
	store := &memoryRecordStore{}
	pipeline, err := NewPipeline(Config{
		BaseDir: t.TempDir(),
		Parser:  manifest.NewParser(schemas),
		Store:   store,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return pipeline, store
}

func testIngestFabric() *stores.Fabric {
	return &stores.Fabric{ID: "fab-1", Name: "fabric-one"}
}

func dropFile(t *testing.T, pipeline *Pipeline, fabricID, name, content string) {
	t.Helper()

	layout := pipeline.Layout(fabricID)
	if err := layout.Ensure(); err != nil {
		t.Fatalf("failed to ensure layout: %v", err)
	}
	path := filepath.Join(layout.DropDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create drop subdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}
}

const validVPC = `apiVersion: fabric.openfabric.io/v1
kind: VPC
metadata:
  name: vpc-1
spec:
  cidr: 10.0.0.0/16
`

func TestRunTracksValidManifest(t *testing.T) {
	pipeline, store := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	dropFile(t, pipeline, fabric.ID, "vpc.yaml", validVPC)

	result, err := pipeline.Run(ctx, fabric)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Tracked != 1 || result.Quarantined != 0 {
		t.Errorf("expected 1 tracked, got %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}

	layout := pipeline.Layout(fabric.ID)
	trackedPath := filepath.Join(layout.TrackedDir(), "vpc.yaml")
	if _, err := os.Stat(trackedPath); err != nil {
		t.Errorf("expected file in tracked area: %v", err)
	}
	if _, err := os.Stat(filepath.Join(layout.DropDir(), "vpc.yaml")); !os.IsNotExist(err) {
		t.Error("expected drop zone emptied")
	}

	// The file moved whole, byte for byte.
	content, err := os.ReadFile(trackedPath)
	if err != nil {
		t.Fatalf("failed to read tracked file: %v", err)
	}
	if string(content) != validVPC {
		t.Error("tracked file must be byte-identical to the dropped file")
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Outcome != stores.IngestionOutcomeTracked {
		t.Errorf("expected tracked outcome, got %s", rec.Outcome)
	}
	if rec.Reason != "valid recognized resource" {
		t.Errorf("unexpected reason: %q", rec.Reason)
	}
}

func TestRunQuarantinesBadManifests(t *testing.T) {
	pipeline, store := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	tests := []struct {
		file    string
		content string
		reason  string
	}{
		{
			file:    "broken.yaml",
			content: "kind: VPC\n  bad: [unclosed\n",
			reason:  "unparsable YAML",
		},
		{
			file:    "nameless.yaml",
			content: "apiVersion: fabric.openfabric.io/v1\nkind: VPC\nmetadata:\n  labels: {}\n",
			reason:  "missing required field: metadata.name",
		},
		{
			file:    "foreign.yaml",
			content: "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: web\n",
			reason:  "unsupported kind: Deployment",
		},
		{
			file:    "empty.yaml",
			content: "# nothing but comments\n",
			reason:  "no manifest documents",
		},
		{
			// One good document does not rescue the file: it cannot be split,
			// so a foreign document quarantines the whole thing.
			file:    "mixed.yaml",
			content: validVPC + "---\napiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: web\n",
			reason:  "unsupported kind: Deployment",
		},
	}

	for _, tt := range tests {
		dropFile(t, pipeline, fabric.ID, tt.file, tt.content)
	}

	result, err := pipeline.Run(ctx, fabric)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Quarantined != len(tests) {
		t.Errorf("expected %d quarantined, got %d", len(tests), result.Quarantined)
	}
	if result.Tracked != 0 {
		t.Errorf("expected nothing tracked, got %d", result.Tracked)
	}

	byFile := make(map[string]*stores.IngestionRecord)
	for _, rec := range store.records {
		byFile[rec.SourcePath] = rec
	}
	for _, tt := range tests {
		rec, ok := byFile[tt.file]
		if !ok {
			t.Errorf("no audit record for %s", tt.file)
			continue
		}
		if rec.Outcome != stores.IngestionOutcomeQuarantined {
			t.Errorf("%s: expected quarantined, got %s", tt.file, rec.Outcome)
		}
		if !strings.Contains(rec.Reason, tt.reason) {
			t.Errorf("%s: expected reason containing %q, got %q", tt.file, tt.reason, rec.Reason)
		}
		if _, err := os.Stat(rec.DestPath); err != nil {
			t.Errorf("%s: quarantined file missing: %v", tt.file, err)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	pipeline, _ := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	dropFile(t, pipeline, fabric.ID, "vpc.yaml", validVPC)
	if _, err := pipeline.Run(ctx, fabric); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	result, err := pipeline.Run(ctx, fabric)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Tracked != 0 || result.Quarantined != 0 || len(result.Records) != 0 {
		t.Errorf("second run over an empty drop zone must do nothing, got %+v", result)
	}
}

func TestRunPolicyGate(t *testing.T) {
	schemas, err := manifest.NewSchemaRegistry()
	if err != nil {
		t.Fatalf("failed to create schema registry: %v", err)
	}
	store := &memoryRecordStore{}
	pipeline, err := NewPipeline(Config{
		BaseDir: t.TempDir(),
		Parser:  manifest.NewParser(schemas),
		Store:   store,
		Gate:    rejectAllGate{},
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	fabric := testIngestFabric()
	dropFile(t, pipeline, fabric.ID, "vpc.yaml", validVPC)

	result, err := pipeline.Run(context.Background(), fabric)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Quarantined != 1 {
		t.Fatalf("expected gate to quarantine, got %+v", result)
	}
	if !strings.Contains(store.records[0].Reason, "policy violation") {
		t.Errorf("expected policy violation reason, got %q", store.records[0].Reason)
	}
}

func TestIngestionLog(t *testing.T) {
	pipeline, _ := setupTestPipeline(t)
	fabric := testIngestFabric()

	dropFile(t, pipeline, fabric.ID, "vpc.yaml", validVPC)
	dropFile(t, pipeline, fabric.ID, "bad.yaml", "kind: VPC\n  broken: [\n")
	if _, err := pipeline.Run(context.Background(), fabric); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	f, err := os.Open(pipeline.Layout(fabric.ID).LogPath())
	if err != nil {
		t.Fatalf("failed to open ingestion log: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec stores.IngestionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("log line %d is not valid JSON: %v", lines+1, err)
		}
		if rec.FabricID != fabric.ID {
			t.Errorf("log line %d has wrong fabric: %q", lines+1, rec.FabricID)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 log lines, got %d", lines)
	}
}

func TestQuarantineCollision(t *testing.T) {
	pipeline, store := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	bad := "kind: VPC\n  broken: [\n"
	dropFile(t, pipeline, fabric.ID, "bad.yaml", bad)
	if _, err := pipeline.Run(ctx, fabric); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	dropFile(t, pipeline, fabric.ID, "bad.yaml", bad)
	if _, err := pipeline.Run(ctx, fabric); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(store.records))
	}
	first := store.records[0].DestPath
	second := store.records[1].DestPath
	if first == second {
		t.Error("colliding quarantine files must get distinct names")
	}
	for _, path := range []string{first, second} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("quarantined copy missing: %v", err)
		}
	}
}

func TestStageAndRetire(t *testing.T) {
	pipeline, _ := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	checkout := t.TempDir()
	writeCheckoutFile := func(name, content string) {
		t.Helper()
		path := filepath.Join(checkout, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create checkout dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write checkout file: %v", err)
		}
	}

	writeCheckoutFile("vpc.yaml", validVPC)
	writeCheckoutFile("net/switch.yaml", "apiVersion: fabric.openfabric.io/v1\nkind: Switch\nmetadata:\n  name: leaf-1\nspec:\n  role: leaf\n")

	staged, err := pipeline.Stage(ctx, fabric, checkout, []string{"vpc.yaml", "net/switch.yaml"})
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if staged != 2 {
		t.Errorf("expected 2 staged, got %d", staged)
	}
	if _, err := pipeline.Run(ctx, fabric); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Same revision again: nothing changed, nothing staged.
	staged, err = pipeline.Stage(ctx, fabric, checkout, []string{"vpc.yaml", "net/switch.yaml"})
	if err != nil {
		t.Fatalf("restage failed: %v", err)
	}
	if staged != 0 {
		t.Errorf("unchanged manifests must not restage, got %d", staged)
	}

	// The switch leaves the checkout: its tracked copy is retired.
	staged, err = pipeline.Stage(ctx, fabric, checkout, []string{"vpc.yaml"})
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if staged != 0 {
		t.Errorf("expected nothing staged, got %d", staged)
	}

	layout := pipeline.Layout(fabric.ID)
	if _, err := os.Stat(filepath.Join(layout.TrackedDir(), "net/switch.yaml")); !os.IsNotExist(err) {
		t.Error("expected retired manifest removed from tracked area")
	}
	if _, err := os.Stat(filepath.Join(layout.TrackedDir(), "vpc.yaml")); err != nil {
		t.Errorf("expected surviving manifest kept: %v", err)
	}
}

func TestParseTracked(t *testing.T) {
	pipeline, _ := setupTestPipeline(t)
	fabric := testIngestFabric()
	ctx := context.Background()

	dropFile(t, pipeline, fabric.ID, "vpc.yaml", validVPC)
	if _, err := pipeline.Run(ctx, fabric); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	set, err := pipeline.ParseTracked(ctx, fabric)
	if err != nil {
		t.Fatalf("parse tracked failed: %v", err)
	}
	recognized := set.Recognized()
	if len(recognized) != 1 {
		t.Fatalf("expected 1 recognized document, got %d", len(recognized))
	}
	if recognized[0].Kind != "VPC" || recognized[0].Metadata.Name != "vpc-1" {
		t.Errorf("unexpected document: %+v", recognized[0])
	}
}

func TestRunEmptyDropZone(t *testing.T) {
	pipeline, _ := setupTestPipeline(t)

	result, err := pipeline.Run(context.Background(), testIngestFabric())
	if err != nil {
		t.Fatalf("run over empty drop zone failed: %v", err)
	}
	if result.Tracked != 0 || result.Quarantined != 0 || len(result.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
