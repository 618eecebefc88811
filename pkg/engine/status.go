package engine

import (
	"github.com/openfabric/fabricsync/pkg/stores"
)

// StatusInput is the snapshot the fabric status calculation runs over.
// CalculateFabricStatus is a pure function of this input.
type StatusInput struct {
	// RepoConfigured reports whether a desired-state repository is configured.
	RepoConfigured bool

	// ClusterConfigured reports whether a target cluster is configured.
	ClusterConfigured bool

	// EverSynced reports whether any sync attempt has ever completed.
	EverSynced bool

	// InFlight reports whether an orchestrator run currently holds the
	// fabric lock. It is authoritative only while the lock is held.
	InFlight bool

	// AttemptFailed reports whether the most recent attempt failed.
	AttemptFailed bool

	// ResourceErrors is the number of resources carrying a non-empty sync error.
	ResourceErrors int

	// DriftedResources is the number of resources diverging from desired state.
	DriftedResources int
}

// CalculateFabricStatus computes the fabric lifecycle status from a snapshot.
//
// Precedence when several states hold:
// error > drifted > syncing > synced > pending > not_configured.
// A fabric missing required configuration never reports a synced variant:
// with neither repo nor cluster it is always not_configured, and with partial
// configuration it falls back to not_configured instead of synced or pending.
func CalculateFabricStatus(in StatusInput) stores.FabricSyncStatus {
	if !in.RepoConfigured && !in.ClusterConfigured {
		return stores.FabricStatusNotConfigured
	}

	if in.AttemptFailed || in.ResourceErrors > 0 {
		return stores.FabricStatusError
	}

	if in.DriftedResources > 0 {
		return stores.FabricStatusDrifted
	}

	if in.InFlight {
		return stores.FabricStatusSyncing
	}

	if !in.RepoConfigured || !in.ClusterConfigured {
		return stores.FabricStatusNotConfigured
	}

	if !in.EverSynced {
		return stores.FabricStatusPending
	}

	return stores.FabricStatusSynced
}

// classifyResource computes the lifecycle state of one tracked resource. It
// is the reference form of the transition rules the store applies during
// reconciliation, kept as an executable cross-check.
//
// inCurrentSet reports whether the latest ingested manifest set still declares
// the resource; currentHash is the spec hash from that set (ignored when the
// resource is absent from it).
func classifyResource(res *stores.ManagedResource, inCurrentSet bool, currentHash string) stores.ResourceSyncState {
	if !inCurrentSet {
		return stores.ResourceStateOrphaned
	}

	if res.LastAppliedAt == nil {
		return stores.ResourceStateDraft
	}

	if res.SpecHash != currentHash {
		return stores.ResourceStateDrifted
	}
	if res.ObservedVersion != nil && *res.ObservedVersion != res.SpecHash {
		return stores.ResourceStateDrifted
	}

	return stores.ResourceStateCommitted
}
