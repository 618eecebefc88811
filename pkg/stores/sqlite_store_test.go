package stores

import (
	"context"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testFabric(id string) *Fabric {
	now := time.Now().UTC()
	return &Fabric{
		ID:           id,
		Name:         "fabric-" + id,
		RepoURL:      "https://git.example.com/fabrics/" + id + ".git",
		RepoRef:      "main",
		RepoSubdir:   "manifests",
		SyncEnabled:  true,
		SyncInterval: 300,
		SyncStatus:   FabricStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testResource(fabricID, id, kind, name, hash string) *ManagedResource {
	return &ManagedResource{
		ID:          id,
		FabricID:    fabricID,
		Kind:        kind,
		Namespace:   "default",
		Name:        name,
		Spec:        `{"cidr":"10.0.0.0/16"}`,
		Labels:      `{}`,
		Annotations: `{}`,
		SpecHash:    hash,
		State:       ResourceStateDraft,
		AutoSync:    true,
	}
}

func TestMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"fabrics", "managed_resources", "ingestion_records"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query sqlite_master: %v", err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}

func TestFabricCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	got, err := store.GetFabric(ctx, "fab-1")
	if err != nil {
		t.Fatalf("failed to get fabric: %v", err)
	}
	if got.Name != fabric.Name {
		t.Errorf("expected name %s, got %s", fabric.Name, got.Name)
	}
	if got.SyncStatus != FabricStatusPending {
		t.Errorf("expected pending status, got %s", got.SyncStatus)
	}
	if !got.RepoConfigured() {
		t.Error("expected repo to be configured")
	}
	if got.ClusterConfigured() {
		t.Error("cluster should not be configured")
	}

	if _, err := store.GetFabric(ctx, "missing"); err == nil {
		t.Error("expected error for missing fabric")
	}

	fabrics, err := store.ListFabrics(ctx)
	if err != nil {
		t.Fatalf("failed to list fabrics: %v", err)
	}
	if len(fabrics) != 1 {
		t.Errorf("expected 1 fabric, got %d", len(fabrics))
	}
}

func TestListSyncEnabledFabrics(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	enabled := testFabric("fab-on")
	disabled := testFabric("fab-off")
	disabled.SyncEnabled = false

	for _, f := range []*Fabric{enabled, disabled} {
		if err := store.CreateFabric(ctx, f); err != nil {
			t.Fatalf("failed to create fabric: %v", err)
		}
	}

	fabrics, err := store.ListSyncEnabledFabrics(ctx)
	if err != nil {
		t.Fatalf("failed to list sync-enabled fabrics: %v", err)
	}
	if len(fabrics) != 1 {
		t.Fatalf("expected 1 sync-enabled fabric, got %d", len(fabrics))
	}
	if fabrics[0].ID != "fab-on" {
		t.Errorf("expected fab-on, got %s", fabrics[0].ID)
	}
}

func TestUpdateFabricStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	msg := "checkout failed: ref not found"
	if err := store.UpdateFabricStatus(ctx, "fab-1", FabricStatusError, &msg); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	got, err := store.GetFabric(ctx, "fab-1")
	if err != nil {
		t.Fatalf("failed to get fabric: %v", err)
	}
	if got.SyncStatus != FabricStatusError {
		t.Errorf("expected error status, got %s", got.SyncStatus)
	}
	if got.SyncStatusMessage == nil || *got.SyncStatusMessage != msg {
		t.Errorf("expected status message %q, got %v", msg, got.SyncStatusMessage)
	}

	// Clearing the message.
	if err := store.UpdateFabricStatus(ctx, "fab-1", FabricStatusSyncing, nil); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	got, _ = store.GetFabric(ctx, "fab-1")
	if got.SyncStatus != FabricStatusSyncing {
		t.Errorf("expected syncing status, got %s", got.SyncStatus)
	}
	if got.SyncStatusMessage != nil {
		t.Errorf("expected message cleared, got %v", *got.SyncStatusMessage)
	}
}

func TestUpdateFabricSyncResult(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	syncedAt := time.Now().UTC().Truncate(time.Second)
	err := store.UpdateFabricSyncResult(ctx, "fab-1", FabricStatusSynced, nil, "abc123def456", &syncedAt)
	if err != nil {
		t.Fatalf("failed to update sync result: %v", err)
	}

	got, err := store.GetFabric(ctx, "fab-1")
	if err != nil {
		t.Fatalf("failed to get fabric: %v", err)
	}
	if got.SyncStatus != FabricStatusSynced {
		t.Errorf("expected synced, got %s", got.SyncStatus)
	}
	if got.DesiredStateRevision != "abc123def456" {
		t.Errorf("expected revision recorded, got %q", got.DesiredStateRevision)
	}
	if got.LastRepoSyncAt == nil {
		t.Fatal("expected last_repo_sync_at set")
	}

	// An empty revision and nil timestamp must preserve the previous values.
	err = store.UpdateFabricSyncResult(ctx, "fab-1", FabricStatusDrifted, nil, "", nil)
	if err != nil {
		t.Fatalf("failed to update sync result: %v", err)
	}
	got, _ = store.GetFabric(ctx, "fab-1")
	if got.SyncStatus != FabricStatusDrifted {
		t.Errorf("expected drifted, got %s", got.SyncStatus)
	}
	if got.DesiredStateRevision != "abc123def456" {
		t.Errorf("expected revision preserved, got %q", got.DesiredStateRevision)
	}
	if got.LastRepoSyncAt == nil {
		t.Error("expected last_repo_sync_at preserved")
	}
}

func TestReconcileFabricResources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	vpc := testResource("fab-1", "res-vpc", "VPC", "vpc-1", "hash-v1")
	sw := testResource("fab-1", "res-sw", "Switch", "leaf-1", "hash-s1")

	stats, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{vpc, sw})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if stats.Created != 2 || stats.Updated != 0 || stats.Orphaned != 0 {
		t.Errorf("expected 2 created, got %+v", stats)
	}

	resources, err := store.ListManagedResources(ctx, "fab-1")
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	for _, res := range resources {
		if res.State != ResourceStateDraft {
			t.Errorf("new resource %s should be draft, got %s", res.Name, res.State)
		}
	}

	// Mark the VPC applied so a hash change can register as drift.
	got, err := store.GetManagedResource(ctx, "fab-1", ResourceKey{Kind: "VPC", Namespace: "default", Name: "vpc-1"})
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		`UPDATE managed_resources SET state = 'committed' WHERE id = ?`, got.ID,
	); err != nil {
		t.Fatalf("failed to commit resource: %v", err)
	}

	// Second pass: VPC spec changed, switch disappeared.
	vpc2 := testResource("fab-1", "res-vpc-new", "VPC", "vpc-1", "hash-v2")
	stats, err = store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{vpc2})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if stats.Created != 0 || stats.Updated != 1 || stats.Orphaned != 1 {
		t.Errorf("expected 1 updated and 1 orphaned, got %+v", stats)
	}
	if vpc2.ID != got.ID {
		t.Errorf("expected existing resource ID reused, got %s", vpc2.ID)
	}

	vpcRes, _ := store.GetManagedResource(ctx, "fab-1", ResourceKey{Kind: "VPC", Namespace: "default", Name: "vpc-1"})
	if vpcRes.State != ResourceStateDrifted {
		t.Errorf("committed resource with changed hash should be drifted, got %s", vpcRes.State)
	}
	swRes, _ := store.GetManagedResource(ctx, "fab-1", ResourceKey{Kind: "Switch", Namespace: "default", Name: "leaf-1"})
	if swRes.State != ResourceStateOrphaned {
		t.Errorf("missing resource should be orphaned, got %s", swRes.State)
	}

	// Third pass: the switch reappears. Orphaned resources return to draft
	// and a second orphan sweep must not touch them again.
	sw2 := testResource("fab-1", "res-sw-new", "Switch", "leaf-1", "hash-s1")
	stats, err = store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{vpc2, sw2})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if stats.Updated != 2 || stats.Orphaned != 0 {
		t.Errorf("expected 2 updated and 0 orphaned, got %+v", stats)
	}
	swRes, _ = store.GetManagedResource(ctx, "fab-1", ResourceKey{Kind: "Switch", Namespace: "default", Name: "leaf-1"})
	if swRes.State != ResourceStateDraft {
		t.Errorf("re-added orphan should be draft, got %s", swRes.State)
	}
}

func TestReconcileRevertedSpecResolvesDrift(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	res := testResource("fab-1", "res-1", "VPC", "vpc-1", "hash-v1")
	if _, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{res}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	// The applier reports hash-v1 applied, committing the draft.
	status := "Ready"
	version := "hash-v1"
	appliedAt := time.Now().UTC()
	if err := store.SetResourceObserved(ctx, res.ID, &status, &version, &appliedAt); err != nil {
		t.Fatalf("failed to set observed: %v", err)
	}

	key := ResourceKey{Kind: "VPC", Namespace: "default", Name: "vpc-1"}

	// Manifest edit away from the applied version is drift.
	if _, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{
		testResource("fab-1", "res-1b", "VPC", "vpc-1", "hash-v2"),
	}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	got, err := store.GetManagedResource(ctx, "fab-1", key)
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if got.State != ResourceStateDrifted {
		t.Fatalf("edited resource should be drifted, got %s", got.State)
	}

	// A further edit that still disagrees with the applied version stays drift.
	if _, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{
		testResource("fab-1", "res-1c", "VPC", "vpc-1", "hash-v3"),
	}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	got, _ = store.GetManagedResource(ctx, "fab-1", key)
	if got.State != ResourceStateDrifted {
		t.Errorf("resource still diverging should stay drifted, got %s", got.State)
	}

	// Reverting the manifest to the applied version resolves the drift.
	if _, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{
		testResource("fab-1", "res-1d", "VPC", "vpc-1", "hash-v1"),
	}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	got, _ = store.GetManagedResource(ctx, "fab-1", key)
	if got.State != ResourceStateCommitted {
		t.Errorf("reverted resource should return to committed, got %s", got.State)
	}
}

func TestResourceObservedAndPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	res := testResource("fab-1", "res-1", "VPC", "vpc-1", "hash-1")
	if _, err := store.ReconcileFabricResources(ctx, "fab-1", []*ManagedResource{res}); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	status := "Ready"
	version := "42"
	appliedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.SetResourceObserved(ctx, res.ID, &status, &version, &appliedAt); err != nil {
		t.Fatalf("failed to set observed: %v", err)
	}

	got, err := store.GetManagedResource(ctx, "fab-1", res.Key())
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if got.ObservedStatus == nil || *got.ObservedStatus != status {
		t.Errorf("expected observed status %q, got %v", status, got.ObservedStatus)
	}
	if got.ObservedVersion == nil || *got.ObservedVersion != version {
		t.Errorf("expected observed version %q, got %v", version, got.ObservedVersion)
	}
	if got.LastAppliedAt == nil {
		t.Error("expected last_applied_at set")
	}

	errMsg := "apply rejected by cluster"
	if err := store.SetResourceSyncError(ctx, res.ID, &errMsg); err != nil {
		t.Fatalf("failed to set sync error: %v", err)
	}
	got, _ = store.GetManagedResource(ctx, "fab-1", res.Key())
	if got.SyncError == nil || *got.SyncError != errMsg {
		t.Errorf("expected sync error recorded, got %v", got.SyncError)
	}

	if err := store.PruneResource(ctx, res.ID); err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if _, err := store.GetManagedResource(ctx, "fab-1", res.Key()); err == nil {
		t.Error("expected pruned resource to be gone")
	}
}

func TestIngestionRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fabric := testFabric("fab-1")
	if err := store.CreateFabric(ctx, fabric); err != nil {
		t.Fatalf("failed to create fabric: %v", err)
	}

	records := []*IngestionRecord{
		{FabricID: "fab-1", SourcePath: "drop/a.yaml", DestPath: "tracked/a.yaml", Outcome: IngestionOutcomeTracked, Reason: "valid recognized resource", Timestamp: time.Now().UTC()},
		{FabricID: "fab-1", SourcePath: "drop/b.yaml", DestPath: "quarantine/b.yaml", Outcome: IngestionOutcomeQuarantined, Reason: "unparsable YAML", Timestamp: time.Now().UTC()},
	}
	for _, rec := range records {
		if err := store.AppendIngestionRecord(ctx, rec); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
		if rec.ID == 0 {
			t.Error("expected record ID assigned")
		}
	}

	got, err := store.ListIngestionRecords(ctx, "fab-1", 10, 0)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	limited, err := store.ListIngestionRecords(ctx, "fab-1", 1, 0)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit respected, got %d records", len(limited))
	}
}

func TestInvalidEnumValidation(t *testing.T) {
	if err := FabricSyncStatus("bogus").Validate(); err == nil {
		t.Error("expected invalid fabric status to fail validation")
	}
	if err := FabricStatusSynced.Validate(); err != nil {
		t.Errorf("valid status rejected: %v", err)
	}
	if err := ResourceSyncState("bogus").Validate(); err == nil {
		t.Error("expected invalid resource state to fail validation")
	}
	if err := ResourceStateCommitted.Validate(); err != nil {
		t.Errorf("valid state rejected: %v", err)
	}
}
