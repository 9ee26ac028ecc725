// Package registry holds the fixed catalog of resources, tools and prompts
// the server exposes. Entries are built once in New and never change.
package registry

import (
	"fmt"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/events"
	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/protocol"
)

// Registry is the immutable catalog. It is safe for concurrent use.
type Registry struct {
	collab    host.Collaborators
	publisher events.Publisher

	resources []*Resource
	tools     []*Tool
	prompts   []*Prompt

	resourceByName map[string]*Resource
	toolByName     map[string]*Tool
	promptByName   map[string]*Prompt
}

// Option configures a Registry
type Option func(*Registry)

// WithPublisher sets where tool side effects are announced
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// New builds the catalog over the given collaborators
func New(c host.Collaborators, opts ...Option) (*Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		collab:         c,
		publisher:      events.NopPublisher{},
		resourceByName: make(map[string]*Resource),
		toolByName:     make(map[string]*Tool),
		promptByName:   make(map[string]*Prompt),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, res := range r.resourceCatalog() {
		if _, dup := r.resourceByName[res.Name()]; dup {
			return nil, fmt.Errorf("duplicate resource %q", res.Name())
		}
		r.resources = append(r.resources, res)
		r.resourceByName[res.Name()] = res
	}

	for _, spec := range r.toolCatalog() {
		name := string(spec.name)
		if _, dup := r.toolByName[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		schema, raw, err := compileSchema(name, spec.args)
		if err != nil {
			return nil, err
		}
		t := &Tool{
			name:        spec.name,
			description: spec.description,
			args:        spec.args,
			capability:  spec.capability,
			schema:      schema,
			inputSchema: raw,
			check:       spec.check,
			call:        spec.call,
		}
		r.tools = append(r.tools, t)
		r.toolByName[name] = t
	}

	for _, p := range r.promptCatalog() {
		r.prompts = append(r.prompts, p)
		r.promptByName[p.Name()] = p
	}

	return r, nil
}

// Lookup finds an entry by kind and name. A miss is a NotFound error.
func (r *Registry) Lookup(kind Kind, name string) (Entry, error) {
	switch kind {
	case KindResource:
		if res, ok := r.resourceByName[name]; ok {
			return res, nil
		}
	case KindTool:
		if t, ok := r.toolByName[name]; ok {
			return t, nil
		}
	}
	return nil, mcperrors.NotFound(string(kind), name)
}

// LookupURI resolves a tari:// resource URI
func (r *Registry) LookupURI(uri string) (*Resource, error) {
	name, err := protocol.ParseResourceURI(uri)
	if err != nil {
		return nil, mcperrors.NotFound(string(KindResource), uri)
	}
	res, ok := r.resourceByName[name]
	if !ok {
		return nil, mcperrors.NotFound(string(KindResource), uri)
	}
	return res, nil
}

// Prompt finds a prompt by name
func (r *Registry) Prompt(name string) (*Prompt, error) {
	if p, ok := r.promptByName[name]; ok {
		return p, nil
	}
	return nil, mcperrors.NotFound("prompt", name)
}

// List returns the entries of one kind in catalog order
func (r *Registry) List(kind Kind) []Entry {
	var out []Entry
	switch kind {
	case KindResource:
		out = make([]Entry, 0, len(r.resources))
		for _, res := range r.resources {
			out = append(out, res)
		}
	case KindTool:
		out = make([]Entry, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t)
		}
	}
	return out
}

// Resources returns the resources/list descriptors
func (r *Registry) Resources() []protocol.Resource {
	out := make([]protocol.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, protocol.Resource{
			URI:         res.URI(),
			Name:        res.Name(),
			Description: res.Description(),
			MimeType:    protocol.MimeTypeJSON,
		})
	}
	return out
}

// Tools returns the tools/list descriptors
func (r *Registry) Tools() []protocol.Tool {
	out := make([]protocol.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, protocol.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Prompts returns the prompts/list descriptors
func (r *Registry) Prompts() []protocol.Prompt {
	out := make([]protocol.Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p.Descriptor())
	}
	return out
}
