package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser turns multi-document YAML text into classified manifest documents.
// A nil schema registry limits validation to the minimal shape rules.
type Parser struct {
	schemas *SchemaRegistry
}

// NewParser creates a parser. The registry may be nil to skip spec validation.
func NewParser(schemas *SchemaRegistry) *Parser {
	return &Parser{schemas: schemas}
}

// Stream is a lazy, finite sequence of parsed documents from one file.
// It is restartable by creating a new stream over the same source.
type Stream struct {
	parser *Parser
	dec    *yaml.Decoder
	path   string
	failed bool
}

// Stream starts decoding the given reader as a multi-document YAML file.
func (p *Parser) Stream(r io.Reader, sourcePath string) *Stream {
	return &Stream{
		parser: p,
		dec:    yaml.NewDecoder(r),
		path:   sourcePath,
	}
}

// Next returns the next classified document. It returns io.EOF when the file
// is exhausted and a *SyntaxError when the YAML cannot be parsed at all; a
// syntax error terminates the stream.
func (s *Stream) Next() (*ParsedDocument, error) {
	if s.failed {
		return nil, io.EOF
	}

	for {
		var node yaml.Node
		if err := s.dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			// Malformed YAML is one file-level error, not a per-document one.
			s.failed = true
			return nil, &SyntaxError{Path: s.path, Err: err}
		}

		// Skip empty documents (comment-only or explicit null).
		if node.Kind == 0 || node.Tag == "!!null" {
			continue
		}

		doc := s.parser.classify(&node, s.path)
		return doc, nil
	}
}

// ParseAll decodes a whole file eagerly. The returned error is file-level
// (YAML syntax) only; per-document problems surface as classifications.
func (p *Parser) ParseAll(content []byte, sourcePath string) ([]*ParsedDocument, error) {
	stream := p.Stream(bytes.NewReader(content), sourcePath)

	var docs []*ParsedDocument
	for {
		doc, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// classify applies the shape, recognition and schema rules to one document.
func (p *Parser) classify(node *yaml.Node, sourcePath string) *ParsedDocument {
	var doc Document
	if err := node.Decode(&doc); err != nil {
		return &ParsedDocument{
			Document: Document{SourcePath: sourcePath},
			Class:    ClassInvalid,
			Reason:   fmt.Sprintf("malformed document structure: %v", err),
		}
	}
	doc.SourcePath = sourcePath

	if reason := checkShape(&doc); reason != "" {
		return &ParsedDocument{Document: doc, Class: ClassInvalid, Reason: reason}
	}

	if doc.Metadata.Namespace == "" {
		doc.Metadata.Namespace = DefaultNamespace
	}

	if !SupportedKinds[doc.Kind] {
		return &ParsedDocument{
			Document: doc,
			Class:    ClassUnrecognized,
			Reason:   fmt.Sprintf("unsupported kind: %s", doc.Kind),
		}
	}
	if group := apiGroup(doc.APIVersion); group != APIGroup {
		return &ParsedDocument{
			Document: doc,
			Class:    ClassUnrecognized,
			Reason:   fmt.Sprintf("unexpected API group: %s", group),
		}
	}

	// Recognized documents additionally validate against the kind schema.
	if p.schemas != nil {
		if err := p.schemas.ValidateKind(doc.Kind, doc.Spec); err != nil {
			return &ParsedDocument{
				Document: doc,
				Class:    ClassInvalid,
				Reason:   fmt.Sprintf("spec schema violation: %v", err),
			}
		}
	}

	return &ParsedDocument{Document: doc, Class: ClassRecognized}
}

// checkShape enforces the minimal required fields. It returns an empty string
// when the shape is acceptable.
func checkShape(doc *Document) string {
	switch {
	case doc.APIVersion == "":
		return "missing required field: apiVersion"
	case doc.Kind == "":
		return "missing required field: kind"
	case doc.Metadata.Name == "":
		return "missing required field: metadata.name"
	}
	return ""
}

// apiGroup extracts the group portion of an apiVersion like "group/v1".
func apiGroup(apiVersion string) string {
	if i := strings.Index(apiVersion, "/"); i >= 0 {
		return apiVersion[:i]
	}
	return apiVersion
}
