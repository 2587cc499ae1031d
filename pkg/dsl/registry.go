package dsl

import "github.com/petrijr/weft/pkg/api"

// Registry holds the named predicates and cardinality functions a YAML
// document may reference. YAML carries only names; the functions behind
// them are Go code bound here before parsing.
//
// Register everything at startup, before the first Parse call. The
// registry is not safe for concurrent mutation.
type Registry struct {
	predicates    map[string]api.PredicateFunc
	cardinalities map[string]api.CardinalityFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		predicates:    make(map[string]api.PredicateFunc),
		cardinalities: make(map[string]api.CardinalityFunc),
	}
}

// RegisterPredicate binds a routing predicate to a name flows can
// reference through their "when" field. Re-registering a name replaces
// the previous function.
func (r *Registry) RegisterPredicate(name string, fn api.PredicateFunc) {
	if name == "" {
		panic("dsl: predicate name must not be empty")
	}
	if fn == nil {
		panic("dsl: predicate " + name + " is nil")
	}
	r.predicates[name] = fn
}

// RegisterCardinality binds a cardinality function to a name tasks can
// reference through their "cardinality_func" field.
func (r *Registry) RegisterCardinality(name string, fn api.CardinalityFunc) {
	if name == "" {
		panic("dsl: cardinality function name must not be empty")
	}
	if fn == nil {
		panic("dsl: cardinality function " + name + " is nil")
	}
	r.cardinalities[name] = fn
}

func (r *Registry) predicate(name string) (api.PredicateFunc, bool) {
	fn, ok := r.predicates[name]
	return fn, ok
}

func (r *Registry) cardinality(name string) (api.CardinalityFunc, bool) {
	fn, ok := r.cardinalities[name]
	return fn, ok
}
