package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas used to validate the spec block of
// recognized manifest kinds.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry pre-loaded with the built-in kind schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	for kind, schema := range builtinKindSchemas {
		if err := sr.RegisterSchema(kind, schema); err != nil {
			return nil, err
		}
	}

	return sr, nil
}

// RegisterSchema compiles and registers a CUE schema for a kind, replacing any
// previous schema for the same kind.
func (sr *SchemaRegistry) RegisterSchema(kind, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", kind, err)
	}

	sr.schemas[kind] = val
	return nil
}

// ValidateKind validates a spec block against the schema registered for the
// kind. Kinds without a registered schema pass.
func (sr *SchemaRegistry) ValidateKind(kind string, spec map[string]any) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[kind]
	sr.mu.RUnlock()
	if !ok {
		return nil
	}

	if spec == nil {
		spec = map[string]any{}
	}

	dataVal := sr.ctx.Encode(spec)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode spec: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all kinds with a registered schema.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	kinds := make([]string, 0, len(sr.schemas))
	for kind := range sr.schemas {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Built-in schema definitions, one per supported kind. Every field not pinned
// down here stays open so operators can carry vendor extensions in specs.
var builtinKindSchemas = map[string]string{
	"VPC": `
{
	// IPv4 CIDR of the VPC
	cidr: string & =~"^([0-9]{1,3}\\.){3}[0-9]{1,3}/[0-9]{1,2}$"

	// Optional VNI for the VPC overlay
	vni?: int & >=1 & <=16777215

	subnets?: [string]: {
		cidr:  string & =~"^([0-9]{1,3}\\.){3}[0-9]{1,3}/[0-9]{1,2}$"
		vlan?: int & >=1 & <=4094
	}
	...
}
`,
	"Switch": `
{
	role: "spine" | "leaf" | "border"

	// Switch profile / hardware model identifier
	profile?: string

	asn?:  int & >=1 & <=4294967295
	vtep?: string
	...
}
`,
	"Server": `
{
	// Connection description towards the fabric
	connections?: [...{
		port:  string
		mtu?:  int & >=68 & <=9216
	}]

	profile?: string
	...
}
`,
	"NetworkPolicy": `
{
	subjects: [...string] & [_, ...]

	action: "permit" | "deny"

	ports?: [...(int & >=0 & <=65535)]
	...
}
`,
	"Connection": `
{
	// Endpoint pair joined by the connection
	endpoints: [...{
		device: string
		port:   string
	}] & [_, _, ...]

	bundled?: bool
	...
}
`,
}
