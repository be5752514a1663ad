// Package blueprint implements the configure-time compiler and the
// per-request build-time selector: declarative configuration becomes
// immutable Blueprints indexed by hostname, and each request resolves to a
// concrete task queue by walking the index and evaluating route predicates.
package blueprint

import (
	"time"

	"github.com/kuadrant/policy-pipeline/internal/config"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// ActionTemplate is one compiled, ordered step of a Blueprint. A non-empty
// Service names an Auth/RateLimit dispatch; otherwise the template
// describes a local StoreData and/or ModifyHeaders action.
type ActionTemplate struct {
	Name        string
	Service     string
	ServiceType config.ServiceType
	Endpoint    string
	Timeout     time.Duration
	FailureMode config.FailureMode
	Scope       string
	Predicate   *expr.Program
	Data        []task.DataEntry
	Headers     []HeaderMutationTemplate
}

// HeaderMutationTemplate pairs a compiled HeaderMutation with the map it
// targets; a single action can mutate both request and response headers.
type HeaderMutationTemplate struct {
	Kind     pctx.MapKind
	Mutation task.HeaderMutation
}

// Blueprint is the immutable, shared, per-route template compiled once at
// configure time: a name, the route predicates that must all hold for this
// blueprint to apply, and its ordered action templates.
type Blueprint struct {
	Name            string
	RoutePredicates []expr.Program
	ActionTemplates []ActionTemplate
}
