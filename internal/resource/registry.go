// Package resource maps resource URIs, literal or templated, to handlers.
package resource

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
)

// Handler reads a resource. params holds the values captured by the
// template's {name} segments; it is empty for literal URIs.
type Handler func(ctx context.Context, project host.Project, uri string, params map[string]string) ([]mcp.ResourceContents, error)

// Resource pairs a definition with its handler.
type Resource struct {
	Definition mcp.ResourceDefinition
	Read       Handler
}

// Match is the outcome of a successful Resolve.
type Match struct {
	Resource Resource
	Params   map[string]string
}

// Registry is safe for concurrent use. Literal URIs live in a map; templates
// are scanned in registration order.
type Registry struct {
	mu        sync.RWMutex
	exact     map[string]Resource
	templates []Resource
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Resource)}
}

// IsTemplate reports whether uri contains a {param} segment.
func IsTemplate(uri string) bool {
	for _, seg := range strings.Split(uri, "/") {
		if _, ok := paramName(seg); ok {
			return true
		}
	}
	return false
}

// Register adds res, replacing any resource with the same URI. A replaced
// template keeps its original scan position.
func (r *Registry) Register(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uri := res.Definition.URI
	if !IsTemplate(uri) {
		r.exact[uri] = res
		return
	}
	for i, t := range r.templates {
		if t.Definition.URI == uri {
			r.templates[i] = res
			return
		}
	}
	r.templates = append(r.templates, res)
}

// Unregister removes the resource registered under uri.
func (r *Registry) Unregister(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.exact[uri]; ok {
		delete(r.exact, uri)
		return true
	}
	for i, t := range r.templates {
		if t.Definition.URI == uri {
			r.templates = append(r.templates[:i], r.templates[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve finds the resource for uri. Literal registrations win over
// templates; among templates the first registered structural match wins.
func (r *Registry) Resolve(uri string) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.exact[uri]; ok {
		return Match{Resource: res, Params: map[string]string{}}, true
	}
	for _, t := range r.templates {
		if params, ok := MatchTemplate(t.Definition.URI, uri); ok {
			return Match{Resource: t, Params: params}, true
		}
	}
	return Match{}, false
}

// Definitions returns every registered definition sorted by URI.
func (r *Registry) Definitions() []mcp.ResourceDefinition {
	r.mu.RLock()
	defs := make([]mcp.ResourceDefinition, 0, len(r.exact)+len(r.templates))
	for _, res := range r.exact {
		defs = append(defs, res.Definition)
	}
	for _, t := range r.templates {
		defs = append(defs, t.Definition)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].URI < defs[j].URI })
	return defs
}

// Templates returns the templated definitions in resources/templates/list
// form, sorted by URI template.
func (r *Registry) Templates() []mcp.ResourceTemplate {
	r.mu.RLock()
	out := make([]mcp.ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		d := t.Definition
		out = append(out, mcp.ResourceTemplate{
			URITemplate: d.URI,
			Name:        d.Name,
			Description: d.Description,
			MimeType:    d.MimeType,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URITemplate < out[j].URITemplate })
	return out
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact) + len(r.templates)
}

// MatchTemplate matches uri against pattern segment by segment, splitting
// both on "/". A {name} segment captures exactly one non-empty segment and a
// literal segment must be equal. The pattern may not have more segments than
// uri; segments of uri past the end of the pattern are not compared.
func MatchTemplate(pattern, uri string) (map[string]string, bool) {
	pSegs := strings.Split(pattern, "/")
	cSegs := strings.Split(uri, "/")
	if len(pSegs) > len(cSegs) {
		return nil, false
	}

	params := make(map[string]string)
	for i, ps := range pSegs {
		name, isParam := paramName(ps)
		if !isParam {
			if ps != cSegs[i] {
				return nil, false
			}
			continue
		}
		if cSegs[i] == "" {
			return nil, false
		}
		params[name] = cSegs[i]
	}
	return params, true
}

func paramName(seg string) (string, bool) {
	if len(seg) < 3 || seg[0] != '{' || seg[len(seg)-1] != '}' {
		return "", false
	}
	return seg[1 : len(seg)-1], true
}
