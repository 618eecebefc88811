package engine

import (
	"testing"

	"github.com/openfabric/fabricsync/pkg/stores"
)

func TestSpecHashDeterministic(t *testing.T) {
	a := map[string]any{"cidr": "10.0.0.0/16", "vni": 10001}
	b := map[string]any{"vni": 10001, "cidr": "10.0.0.0/16"}

	hashA, err := SpecHash(a)
	if err != nil {
		t.Fatalf("failed to hash spec: %v", err)
	}
	hashB, err := SpecHash(b)
	if err != nil {
		t.Fatalf("failed to hash spec: %v", err)
	}
	if hashA != hashB {
		t.Errorf("equal specs must hash equal: %s vs %s", hashA, hashB)
	}

	c := map[string]any{"cidr": "10.1.0.0/16", "vni": 10001}
	hashC, err := SpecHash(c)
	if err != nil {
		t.Fatalf("failed to hash spec: %v", err)
	}
	if hashA == hashC {
		t.Error("different specs must hash differently")
	}
}

func TestComputeDrift(t *testing.T) {
	errMsg := "apply failed"
	staleVersion := "other-hash"

	resources := []*stores.ManagedResource{
		{Kind: "VPC", Namespace: "default", Name: "committed", State: stores.ResourceStateCommitted, SpecHash: "h1"},
		{Kind: "VPC", Namespace: "default", Name: "drifted", State: stores.ResourceStateDrifted, SpecHash: "h2"},
		{Kind: "Switch", Namespace: "default", Name: "orphan", State: stores.ResourceStateOrphaned, SpecHash: "h3"},
		{Kind: "Switch", Namespace: "default", Name: "draft", State: stores.ResourceStateDraft, SpecHash: "h4"},
		{Kind: "Server", Namespace: "default", Name: "errored", State: stores.ResourceStateCommitted, SpecHash: "h5", SyncError: &errMsg},
	}

	// Without a cluster, drafts are just not-yet-applied paperwork.
	report := ComputeDrift(resources, false)
	if len(report.Drifted) != 2 {
		t.Errorf("expected 2 drifted resources without a cluster, got %d", len(report.Drifted))
	}
	if report.Errored != 1 {
		t.Errorf("expected 1 errored resource, got %d", report.Errored)
	}
	if !report.DriftPresent() {
		t.Error("expected drift to be reported")
	}

	// With a cluster, the draft is declared but unapplied there.
	report = ComputeDrift(resources, true)
	if len(report.Drifted) != 3 {
		t.Errorf("expected 3 drifted resources with a cluster, got %d", len(report.Drifted))
	}

	// A committed resource whose observed version disagrees counts too.
	stale := []*stores.ManagedResource{
		{Kind: "VPC", Namespace: "default", Name: "stale", State: stores.ResourceStateCommitted, SpecHash: "h1", ObservedVersion: &staleVersion},
	}
	report = ComputeDrift(stale, true)
	if len(report.Drifted) != 1 {
		t.Errorf("expected stale observed version to count as drift, got %d", len(report.Drifted))
	}
}

func TestBuildStatusInput(t *testing.T) {
	fabric := &stores.Fabric{
		ID:      "fab-1",
		RepoURL: "https://git.example.com/fab.git",
	}

	resources := []*stores.ManagedResource{
		{Kind: "VPC", Namespace: "default", Name: "a", State: stores.ResourceStateDrifted},
	}

	in := BuildStatusInput(fabric, resources, false, false)
	if !in.RepoConfigured {
		t.Error("expected repo configured")
	}
	if in.ClusterConfigured {
		t.Error("expected cluster not configured")
	}
	if in.EverSynced {
		t.Error("expected never synced")
	}
	if in.DriftedResources != 1 {
		t.Errorf("expected 1 drifted resource, got %d", in.DriftedResources)
	}

	if got := CalculateFabricStatus(in); got != stores.FabricStatusDrifted {
		t.Errorf("expected drifted, got %s", got)
	}
}
