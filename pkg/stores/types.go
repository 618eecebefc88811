package stores

import (
	"context"
	"database/sql"
	"time"
)

// FabricSyncStatus is the calculated lifecycle status of a fabric.
type FabricSyncStatus string

const (
	// FabricStatusNotConfigured means neither a repository nor a cluster is configured.
	FabricStatusNotConfigured FabricSyncStatus = "not_configured"

	// FabricStatusPending means the fabric is configured but has never synced.
	FabricStatusPending FabricSyncStatus = "pending"

	// FabricStatusSyncing means a sync attempt is currently in flight.
	FabricStatusSyncing FabricSyncStatus = "syncing"

	// FabricStatusSynced means the last attempt succeeded and no drift is present.
	FabricStatusSynced FabricSyncStatus = "synced"

	// FabricStatusDrifted means desired and tracked/observed state differ.
	FabricStatusDrifted FabricSyncStatus = "drifted"

	// FabricStatusError means the last attempt failed or a resource carries a sync error.
	FabricStatusError FabricSyncStatus = "error"
)

// Validate checks if the fabric sync status is valid.
func (s FabricSyncStatus) Validate() error {
	switch s {
	case FabricStatusNotConfigured, FabricStatusPending, FabricStatusSyncing,
		FabricStatusSynced, FabricStatusDrifted, FabricStatusError:
		return nil
	default:
		return &InvalidEnumError{Kind: "fabric sync status", Value: string(s)}
	}
}

// ResourceSyncState is the per-resource lifecycle classification.
type ResourceSyncState string

const (
	// ResourceStateDraft means the resource was ingested but never applied.
	ResourceStateDraft ResourceSyncState = "draft"

	// ResourceStateCommitted means the resource was applied and shows no drift.
	ResourceStateCommitted ResourceSyncState = "committed"

	// ResourceStateDrifted means the persisted spec differs from the current manifest.
	ResourceStateDrifted ResourceSyncState = "drifted"

	// ResourceStateOrphaned means the declaring manifest disappeared from the repository.
	// Orphaned resources are retained until explicitly pruned.
	ResourceStateOrphaned ResourceSyncState = "orphaned"
)

// Validate checks if the resource sync state is valid.
func (s ResourceSyncState) Validate() error {
	switch s {
	case ResourceStateDraft, ResourceStateCommitted, ResourceStateDrifted, ResourceStateOrphaned:
		return nil
	default:
		return &InvalidEnumError{Kind: "resource sync state", Value: string(s)}
	}
}

// IngestionOutcome is where an ingested file ended up.
type IngestionOutcome string

const (
	IngestionOutcomeTracked     IngestionOutcome = "tracked"
	IngestionOutcomeQuarantined IngestionOutcome = "quarantined"
)

// InvalidEnumError reports an out-of-range enum value read from storage.
type InvalidEnumError struct {
	Kind  string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return "invalid " + e.Kind + ": " + e.Value
}

// Fabric is one managed network fabric tracked by the engine.
type Fabric struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Repository reference (desired state source).
	RepoURL          string `json:"repo_url"`
	RepoRef          string `json:"repo_ref"`
	RepoSubdir       string `json:"repo_subdir"`
	RepoCredentialID string `json:"repo_credential_id"`

	// Cluster reference (observed state sink, reconciled by an external applier).
	ClusterEndpoint     string `json:"cluster_endpoint"`
	ClusterNamespace    string `json:"cluster_namespace"`
	ClusterCredentialID string `json:"cluster_credential_id"`

	SyncEnabled  bool `json:"sync_enabled"`
	SyncInterval int  `json:"sync_interval"` // seconds

	LastRepoSyncAt    *time.Time `json:"last_repo_sync_at,omitempty"`
	LastClusterSyncAt *time.Time `json:"last_cluster_sync_at,omitempty"`

	SyncStatus           FabricSyncStatus `json:"calculated_sync_status"`
	SyncStatusMessage    *string          `json:"sync_status_message,omitempty"`
	DesiredStateRevision string           `json:"desired_state_revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepoConfigured reports whether the fabric has a desired-state repository.
func (f *Fabric) RepoConfigured() bool {
	return f.RepoURL != ""
}

// ClusterConfigured reports whether the fabric has a target cluster.
func (f *Fabric) ClusterConfigured() bool {
	return f.ClusterEndpoint != ""
}

// ManagedResource is the inventory-side record of one declared resource.
// It is unique per (fabric, kind, namespace, name).
type ManagedResource struct {
	ID       string `json:"id"`
	FabricID string `json:"fabric_id"`

	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`

	Spec        string `json:"spec"`        // JSON blob
	Labels      string `json:"labels"`      // JSON blob
	Annotations string `json:"annotations"` // JSON blob
	SpecHash    string `json:"spec_hash"`   // SHA256 of canonical spec for drift detection

	State ResourceSyncState `json:"state"`

	ObservedStatus  *string    `json:"observed_status,omitempty"`
	ObservedVersion *string    `json:"observed_version,omitempty"`
	LastAppliedAt   *time.Time `json:"last_applied_at,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	SyncError       *string    `json:"sync_error,omitempty"`
	AutoSync        bool       `json:"auto_sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResourceKey identifies a managed resource within a fabric.
type ResourceKey struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// Key returns the resource's identity within its fabric.
func (r *ManagedResource) Key() ResourceKey {
	return ResourceKey{Kind: r.Kind, Namespace: r.Namespace, Name: r.Name}
}

// IngestionRecord is an append-only audit entry for one ingestion decision.
type IngestionRecord struct {
	ID         int64            `json:"id"`
	FabricID   string           `json:"fabric_id"`
	SourcePath string           `json:"source_path"`
	DestPath   string           `json:"dest_path"`
	Outcome    IngestionOutcome `json:"outcome"`
	Reason     string           `json:"reason"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ReconcileStats summarises one reconcile pass over a fabric's resources.
type ReconcileStats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Orphaned int `json:"orphaned"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Fabric operations
	CreateFabric(ctx context.Context, fabric *Fabric) error
	GetFabric(ctx context.Context, id string) (*Fabric, error)
	ListFabrics(ctx context.Context) ([]*Fabric, error)
	ListSyncEnabledFabrics(ctx context.Context) ([]*Fabric, error)
	UpdateFabricStatus(ctx context.Context, id string, status FabricSyncStatus, message *string) error
	UpdateFabricSyncResult(ctx context.Context, id string, status FabricSyncStatus, message *string, revision string, repoSyncedAt *time.Time) error

	// ManagedResource operations
	GetManagedResource(ctx context.Context, fabricID string, key ResourceKey) (*ManagedResource, error)
	ListManagedResources(ctx context.Context, fabricID string) ([]*ManagedResource, error)
	ReconcileFabricResources(ctx context.Context, fabricID string, desired []*ManagedResource) (*ReconcileStats, error)
	SetResourceSyncError(ctx context.Context, id string, errMsg *string) error
	SetResourceObserved(ctx context.Context, id string, status, version *string, appliedAt *time.Time) error
	PruneResource(ctx context.Context, id string) error

	// Ingestion audit operations
	AppendIngestionRecord(ctx context.Context, rec *IngestionRecord) error
	ListIngestionRecords(ctx context.Context, fabricID string, limit, offset int) ([]*IngestionRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
