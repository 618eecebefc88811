package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/openfabric/fabricsync/pkg/stores"
)

// SpecHash computes the canonical hash of a resource spec. Map keys are
// serialised in sorted order, so semantically equal specs hash equal.
func SpecHash(spec map[string]any) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise spec: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DriftReport summarises divergence between desired, tracked and observed
// state across a fabric's resources.
type DriftReport struct {
	// Drifted lists resources diverging from their declared spec, including
	// orphans whose declaring manifest disappeared.
	Drifted []stores.ResourceKey `json:"drifted"`

	// Errored is the number of resources carrying a non-empty sync error.
	Errored int `json:"errored"`
}

// DriftPresent reports whether any resource diverges from desired state.
func (r *DriftReport) DriftPresent() bool {
	return len(r.Drifted) > 0
}

// ComputeDrift inspects a fabric's tracked resources and reports divergence.
//
// A resource counts as drifted when its persisted state says so, when its
// observed version disagrees with the declared spec, or when it is orphaned
// (tracked but no longer declared). Draft resources count as drift only when
// a cluster is configured: they are declared but not yet applied there.
func ComputeDrift(resources []*stores.ManagedResource, clusterConfigured bool) *DriftReport {
	report := &DriftReport{}

	for _, res := range resources {
		if res.SyncError != nil && *res.SyncError != "" {
			report.Errored++
		}

		switch res.State {
		case stores.ResourceStateDrifted, stores.ResourceStateOrphaned:
			report.Drifted = append(report.Drifted, res.Key())

		case stores.ResourceStateDraft:
			if clusterConfigured {
				report.Drifted = append(report.Drifted, res.Key())
			}

		case stores.ResourceStateCommitted:
			if res.ObservedVersion != nil && *res.ObservedVersion != res.SpecHash {
				report.Drifted = append(report.Drifted, res.Key())
			}
		}
	}

	return report
}

// BuildStatusInput assembles the status calculation snapshot for a fabric.
func BuildStatusInput(fabric *stores.Fabric, resources []*stores.ManagedResource, inFlight, attemptFailed bool) StatusInput {
	report := ComputeDrift(resources, fabric.ClusterConfigured())

	return StatusInput{
		RepoConfigured:    fabric.RepoConfigured(),
		ClusterConfigured: fabric.ClusterConfigured(),
		EverSynced:        fabric.LastRepoSyncAt != nil,
		InFlight:          inFlight,
		AttemptFailed:     attemptFailed,
		ResourceErrors:    report.Errored,
		DriftedResources:  len(report.Drifted),
	}
}
