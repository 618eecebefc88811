package policy

// BuiltinPolicies returns the policies shipped with the engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		manifestNamingPolicy(),
		ownerLabelPolicy(),
		openNetworkPolicyPolicy(),
	}
}

// manifestNamingPolicy enforces resource naming conventions.
func manifestNamingPolicy() Policy {
	return Policy{
		Name:        "manifest-naming",
		Description: "Enforces resource naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package fabricsync.policies.naming

import rego.v1

deny contains violation if {
	name := input.document.metadata.name
	lower(name) != name
	violation := {
		"message": sprintf("resource name '%s' must be lowercase", [name]),
		"severity": "error",
		"resource": name,
	}
}

deny contains violation if {
	name := input.document.metadata.name
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", name)
	violation := {
		"message": sprintf("resource name '%s' must be alphanumeric with hyphens", [name]),
		"severity": "error",
		"resource": name,
	}
}`,
	}
}

// ownerLabelPolicy flags resources without an owner label. Advisory only.
func ownerLabelPolicy() Policy {
	return Policy{
		Name:        "owner-label",
		Description: "Flags resources missing the fabric.openfabric.io/owner label",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"labels", "governance"},
		Rego: `package fabricsync.policies.labels

import rego.v1

deny contains violation if {
	not input.document.metadata.labels["fabric.openfabric.io/owner"]
	violation := {
		"message": sprintf("resource '%s' has no fabric.openfabric.io/owner label", [input.document.metadata.name]),
		"severity": "warning",
		"resource": input.document.metadata.name,
	}
}`,
	}
}

// openNetworkPolicyPolicy rejects permit-all network policies.
func openNetworkPolicyPolicy() Policy {
	return Policy{
		Name:        "no-permit-all",
		Description: "Rejects NetworkPolicy manifests that permit traffic for all subjects",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "network"},
		Rego: `package fabricsync.policies.network

import rego.v1

deny contains violation if {
	input.document.kind == "NetworkPolicy"
	input.document.spec.action == "permit"
	some subject in input.document.spec.subjects
	subject == "*"
	violation := {
		"message": sprintf("network policy '%s' permits traffic for all subjects", [input.document.metadata.name]),
		"severity": "error",
		"resource": input.document.metadata.name,
	}
}`,
	}
}
