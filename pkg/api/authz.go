package api

import "context"

// Scope names one externally callable engine operation for authorization
// purposes.
type Scope string

const (
	ScopeWorkflowInitialize Scope = "workflow:initialize"
	ScopeWorkflowCancel     Scope = "workflow:cancel"
	ScopeWorkItemInitialize Scope = "workitem:initialize"
	ScopeWorkItemStart      Scope = "workitem:start"
	ScopeWorkItemComplete   Scope = "workitem:complete"
	ScopeWorkItemFail       Scope = "workitem:fail"
	ScopeWorkItemCancel     Scope = "workitem:cancel"
)

// Authorizer gates externally invoked engine operations. The engine calls
// AssertHasScope before any state is touched; a non-nil return aborts the
// operation. Internal propagation (token routing, cascades, composite
// orchestration) is never authorized.
type Authorizer interface {
	AssertHasScope(ctx context.Context, actor string, scope Scope) error
}

// AllowAllAuthorizer grants every scope to every actor. It is the default
// when no authorizer is configured.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) AssertHasScope(ctx context.Context, actor string, scope Scope) error {
	return nil
}

// StaticAuthorizer grants a fixed scope set per actor.
type StaticAuthorizer struct {
	grants map[string]map[Scope]bool
}

// NewStaticAuthorizer builds an Authorizer from an actor-to-scopes table.
// Actors absent from the table hold no scopes.
func NewStaticAuthorizer(grants map[string][]Scope) *StaticAuthorizer {
	a := &StaticAuthorizer{grants: make(map[string]map[Scope]bool, len(grants))}
	for actor, scopes := range grants {
		set := make(map[Scope]bool, len(scopes))
		for _, s := range scopes {
			set[s] = true
		}
		a.grants[actor] = set
	}
	return a
}

func (a *StaticAuthorizer) AssertHasScope(ctx context.Context, actor string, scope Scope) error {
	if a.grants[actor][scope] {
		return nil
	}
	return &UnauthorizedError{Actor: actor, Scope: string(scope)}
}

type actorContextKey struct{}

// WithActor returns a context attributing subsequent engine calls to the
// given principal. The actor is checked by the configured Authorizer and
// recorded on every audit trail event the call produces.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting principal set by WithActor, or the
// empty string when none is set.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
