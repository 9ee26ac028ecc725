package registry

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/protocol"
)

// Kind separates the two catalogs
type Kind string

const (
	KindResource Kind = "resource"
	KindTool     Kind = "tool"
)

// Capability is a permission a tool may require
type Capability string

const (
	// CapabilityNone marks entries that need no capability
	CapabilityNone Capability = ""
	// CapabilityWalletSend gates outgoing transfers
	CapabilityWalletSend Capability = "allow-wallet-send"
)

// Args are decoded tool arguments
type Args map[string]interface{}

// Entry is a catalog entry. The only implementations are *Resource and
// *Tool.
type Entry interface {
	Kind() Kind
	Name() string
	Description() string
	Arguments() []Argument
	RequiredCapability() Capability
	Validate(args Args) error
	Invoke(ctx context.Context, args Args) (interface{}, error)

	sealed()
}

// ResourceReader produces a resource document
type ResourceReader func(ctx context.Context) (interface{}, error)

// Resource is a read-only catalog entry
type Resource struct {
	name        ResourceName
	description string
	read        ResourceReader
}

func (r *Resource) Kind() Kind { return KindResource }
func (r *Resource) Name() string { return string(r.name) }
func (r *Resource) Description() string { return r.description }
func (r *Resource) Arguments() []Argument { return nil }
func (r *Resource) RequiredCapability() Capability { return CapabilityNone }
func (r *Resource) sealed() {}

// URI returns the resource's tari:// URI
func (r *Resource) URI() string {
	return protocol.ResourceURI(string(r.name))
}

// Validate rejects any arguments; resources take none
func (r *Resource) Validate(args Args) error {
	if len(args) == 0 {
		return nil
	}
	fields := make([]mcperrors.FieldError, 0, len(args))
	for k := range args {
		fields = append(fields, mcperrors.FieldError{Field: k, Message: "resources take no arguments"})
	}
	return mcperrors.ValidationFailed(r.URI(), sortFields(fields))
}

// Invoke reads the resource
func (r *Resource) Invoke(ctx context.Context, _ Args) (interface{}, error) {
	return r.read(ctx)
}

// ToolHandler performs a tool call with validated arguments
type ToolHandler func(ctx context.Context, args Args) (interface{}, error)

// SemanticCheck validates arguments beyond what the schema can express
type SemanticCheck func(args Args) []mcperrors.FieldError

// Tool is a state-changing catalog entry
type Tool struct {
	name        ToolName
	description string
	args        []Argument
	capability  Capability
	schema      *jsonschema.Schema
	inputSchema json.RawMessage
	check       SemanticCheck
	call        ToolHandler
}

func (t *Tool) Kind() Kind { return KindTool }
func (t *Tool) Name() string { return string(t.name) }
func (t *Tool) Description() string { return t.description }
func (t *Tool) RequiredCapability() Capability { return t.capability }
func (t *Tool) sealed() {}

// Arguments returns a copy of the declared arguments
func (t *Tool) Arguments() []Argument {
	return append([]Argument(nil), t.args...)
}

// InputSchema is the JSON Schema advertised to clients
func (t *Tool) InputSchema() json.RawMessage {
	return t.inputSchema
}

// Validate checks args against the compiled schema, then the semantic
// checks.
func (t *Tool) Validate(args Args) error {
	if args == nil {
		args = Args{}
	}
	if err := t.schema.Validate(map[string]interface{}(args)); err != nil {
		return mcperrors.ValidationFailed(t.Name(), schemaFieldErrors(err))
	}
	if t.check != nil {
		if fields := t.check(args); len(fields) > 0 {
			return mcperrors.ValidationFailed(t.Name(), sortFields(fields))
		}
	}
	return nil
}

// Invoke runs the tool. Callers validate and authorize first.
func (t *Tool) Invoke(ctx context.Context, args Args) (interface{}, error) {
	if args == nil {
		args = Args{}
	}
	return t.call(ctx, args)
}
