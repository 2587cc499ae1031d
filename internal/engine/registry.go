package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/petrijr/weft/pkg/api"
)

// defaultVersion is assigned to definitions registered without a version.
const defaultVersion = "v1"

// Registry holds compiled workflow definitions keyed by name and version.
// Definitions are immutable once registered.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]map[string]*compiledGraph
	latest   map[string]string // name -> most recently registered version
	validate *validator.Validate
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]map[string]*compiledGraph),
		latest:   make(map[string]string),
		validate: validator.New(),
	}
}

// Register validates and stores a definition. Field and structural
// violations are collected into a single DefinitionError rather than
// reported one at a time. Re-registering a name/version pair is an error.
func (r *Registry) Register(def api.WorkflowDefinition) error {
	version := def.Version
	if version == "" {
		version = defaultVersion
	}

	violations := r.fieldViolations(def)

	r.mu.Lock()
	defer r.mu.Unlock()

	known := func(name, ref string) bool {
		if name == def.Name {
			// Self-reference, used by recursive workflows.
			return ref == "" || ref == version
		}
		versions := r.byName[name]
		if versions == nil {
			return false
		}
		if ref == "" {
			return true
		}
		_, ok := versions[ref]
		return ok
	}
	g, structural := compile(def, version, known)
	violations = append(violations, structural...)
	if len(violations) > 0 {
		return &api.DefinitionError{Workflow: def.Name, Violations: violations}
	}

	versions := r.byName[def.Name]
	if versions == nil {
		versions = make(map[string]*compiledGraph)
		r.byName[def.Name] = versions
	}
	if _, exists := versions[version]; exists {
		return fmt.Errorf("workflow %q version %q already registered", def.Name, version)
	}
	versions[version] = g
	r.latest[def.Name] = version
	return nil
}

func (r *Registry) fieldViolations(def api.WorkflowDefinition) []string {
	err := r.validate.Struct(def)
	if err == nil {
		return nil
	}
	var ferrs validator.ValidationErrors
	if !errors.As(err, &ferrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ferrs))
	for _, fe := range ferrs {
		out = append(out, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return out
}

// Resolve returns the compiled graph for a name and version. An empty
// version resolves to the most recently registered one.
func (r *Registry) Resolve(name, version string) (*compiledGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byName[name]
	if versions == nil {
		return nil, fmt.Errorf("%w: %s", api.ErrDefinitionNotFound, name)
	}
	if version == "" {
		version = r.latest[name]
	}
	g, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", api.ErrDefinitionNotFound, name, version)
	}
	return g, nil
}

// Versions returns the registered versions of a workflow, sorted.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byName[name]
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// splitWorkflowRef splits a "name" or "name@version" sub-workflow reference.
func splitWorkflowRef(ref string) (name, version string) {
	if i := strings.LastIndex(ref, "@"); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}
