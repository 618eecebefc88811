package engine

import (
	"context"
	"time"

	"github.com/openfabric/fabricsync/pkg/ingest"
	"github.com/openfabric/fabricsync/pkg/stores"
)

// AttemptOutcome is the terminal result of one sync attempt.
type AttemptOutcome string

const (
	// OutcomeSucceeded means the attempt completed and the inventory reflects
	// the checked-out desired state.
	OutcomeSucceeded AttemptOutcome = "succeeded"

	// OutcomeFailed means the attempt aborted; inventory mutations from the
	// failed portion were not committed.
	OutcomeFailed AttemptOutcome = "failed"

	// OutcomeSkipped means the fabric had nothing to sync, typically because
	// it is not configured.
	OutcomeSkipped AttemptOutcome = "skipped"
)

// SyncAttempt is the ephemeral per-run context of one orchestrator pass.
// Its summary is projected onto the fabric row; the attempt itself is not
// persisted.
type SyncAttempt struct {
	FabricID    string         `json:"fabric_id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
	Outcome     AttemptOutcome `json:"outcome"`

	// Revision is the desired-state revision the attempt ingested.
	Revision string `json:"revision,omitempty"`

	// Error is the human-readable failure message, empty on success.
	Error string `json:"error,omitempty"`

	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Orphaned    int `json:"orphaned"`
	Tracked     int `json:"tracked"`
	Quarantined int `json:"quarantined"`
}

// CheckoutSpec describes one repository checkout request.
type CheckoutSpec struct {
	URL              string
	Ref              string
	Subdir           string
	CredentialHandle string
}

// RepoCheckout is an ephemeral working copy of a fabric's repository.
type RepoCheckout interface {
	// Root is the checkout directory on local disk.
	Root() string

	// Revision is the resolved commit id at the requested ref.
	Revision() string

	// ListManifests enumerates manifest paths relative to the checkout root.
	ListManifests(subdir string) ([]string, error)

	// Close removes the working directory. It must be called on every exit path.
	Close() error
}

// RepoClient produces ephemeral repository checkouts.
type RepoClient interface {
	CheckoutRef(ctx context.Context, spec CheckoutSpec) (RepoCheckout, error)
}

// Ingestor is the ingestion pipeline as consumed by the orchestrator.
type Ingestor interface {
	// Stage copies new or changed manifests from a checkout into the fabric's
	// drop zone and retires tracked manifests no longer present in the
	// checkout. It returns the number of staged files.
	Stage(ctx context.Context, fabric *stores.Fabric, checkoutRoot string, files []string) (int, error)

	// Run processes every file currently in the fabric's drop zone.
	Run(ctx context.Context, fabric *stores.Fabric) (*ingest.Result, error)

	// ParseTracked parses all manifests in the fabric's tracked area.
	ParseTracked(ctx context.Context, fabric *stores.Fabric) (*ingest.ParsedSet, error)
}

// InventoryStore is the resource store gateway as consumed by the engine.
type InventoryStore interface {
	GetFabric(ctx context.Context, id string) (*stores.Fabric, error)
	ListSyncEnabledFabrics(ctx context.Context) ([]*stores.Fabric, error)
	UpdateFabricStatus(ctx context.Context, id string, status stores.FabricSyncStatus, message *string) error
	UpdateFabricSyncResult(ctx context.Context, id string, status stores.FabricSyncStatus, message *string, revision string, repoSyncedAt *time.Time) error
	ListManagedResources(ctx context.Context, fabricID string) ([]*stores.ManagedResource, error)
	ReconcileFabricResources(ctx context.Context, fabricID string, desired []*stores.ManagedResource) (*stores.ReconcileStats, error)
}
