package manifest

import "fmt"

// APIGroup is the API group every recognized manifest must belong to.
const APIGroup = "fabric.openfabric.io"

// DefaultNamespace is assumed when a document carries no metadata.namespace.
const DefaultNamespace = "default"

// SupportedKinds is the fixed set of resource kinds the engine tracks.
var SupportedKinds = map[string]bool{
	"VPC":           true,
	"Switch":        true,
	"Server":        true,
	"NetworkPolicy": true,
	"Connection":    true,
}

// Classification is the parse-time category of one manifest document.
type Classification string

const (
	// ClassRecognized means the document is well-shaped, its kind is supported
	// and its apiVersion belongs to the expected API group.
	ClassRecognized Classification = "recognized"

	// ClassUnrecognized means the document is well-shaped but its kind or API
	// group is outside the supported set.
	ClassUnrecognized Classification = "unrecognized"

	// ClassInvalid means the document fails the minimal shape requirements.
	ClassInvalid Classification = "invalid"
)

// Metadata is the standard metadata block of a manifest document.
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Namespace   string            `yaml:"namespace" json:"namespace"`
	Labels      map[string]string `yaml:"labels" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations" json:"annotations,omitempty"`
}

// Document is one parsed manifest document. It is ephemeral, scoped to a
// single sync pass, and never persisted as-is.
type Document struct {
	APIVersion string         `yaml:"apiVersion" json:"apiVersion"`
	Kind       string         `yaml:"kind" json:"kind"`
	Metadata   Metadata       `yaml:"metadata" json:"metadata"`
	Spec       map[string]any `yaml:"spec" json:"spec"`

	// SourcePath is the manifest file the document came from.
	SourcePath string `yaml:"-" json:"source_path"`
}

// ParsedDocument pairs a document with its classification.
type ParsedDocument struct {
	Document Document
	Class    Classification

	// Reason explains an invalid or unrecognized classification.
	Reason string
}

// SyntaxError is a file-level error for YAML that cannot be parsed at all.
// It is reported once per file, never per document.
type SyntaxError struct {
	Path string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("unparsable manifest %s: %v", e.Path, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}
