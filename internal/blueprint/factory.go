package blueprint

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/actionset"
	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/config"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/metrics"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// Options supplies the capabilities a Factory's instantiated tasks dispatch
// through: the per-service auth/rate-limit codecs, an optional tracer, and
// an optional metrics recorder.
type Options struct {
	AuthCodecs      map[string]task.AuthCodec
	RateLimitCodecs map[string]task.RateLimitCodec
	Tracer          task.Tracer
	Metrics         *metrics.Recorder
}

// Factory is the configure-time-compiled, immutable object that builds a
// Pipeline's task queue for each request. Shared by reference across every
// concurrent request.
type Factory struct {
	env         *expr.Environment
	index       *actionset.Index[*Blueprint]
	requestData expr.RequestData
	services    map[string]config.ServiceConfig
	opts        Options
}

// New compiles a Config into a Factory: every route predicate and action
// expression is compiled once here, so a malformed CEL source is a
// configure-time error rather than a per-request one.
func New(cfg config.Config, env *expr.Environment, opts Options) (*Factory, error) {
	requestData := make(expr.RequestData, len(cfg.RequestData))
	for name, source := range cfg.RequestData {
		program, err := env.CompileValue(source)
		if err != nil {
			return nil, fmt.Errorf("blueprint: requestData %q: %w", name, err)
		}
		requestData[name] = program
	}

	f := &Factory{
		env:         env,
		index:       actionset.New[*Blueprint](),
		requestData: requestData,
		services:    cfg.Services,
		opts:        opts,
	}

	for i, as := range cfg.ActionSets {
		bp, err := f.compileActionSet(as)
		if err != nil {
			return nil, fmt.Errorf("blueprint: actionSets[%d] (%s): %w", i, as.Name, err)
		}
		for _, host := range as.RouteRuleConditions.Hostnames {
			f.index.Insert(host, bp)
		}
	}

	if opts.Metrics != nil {
		opts.Metrics.ConfigSucceeded()
	}
	return f, nil
}

func (f *Factory) compileActionSet(as config.ActionSetConfig) (*Blueprint, error) {
	bp := &Blueprint{Name: as.Name}

	for i, source := range as.RouteRuleConditions.Predicates {
		program, err := f.env.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("routeRuleConditions.predicates[%d]: %w", i, err)
		}
		bp.RoutePredicates = append(bp.RoutePredicates, program)
	}

	for i, action := range as.Actions {
		tmpl, err := f.compileAction(as.Name, i, action)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		bp.ActionTemplates = append(bp.ActionTemplates, tmpl)
	}
	return bp, nil
}

func (f *Factory) compileAction(setName string, index int, a config.ActionConfig) (ActionTemplate, error) {
	tmpl := ActionTemplate{
		Name:        fmt.Sprintf("%s.action.%d", setName, index),
		Service:     a.Service,
		FailureMode: a.FailureMode,
		Scope:       a.Scope,
	}

	if a.Predicate != "" {
		program, err := f.env.Compile(a.Predicate)
		if err != nil {
			return tmpl, fmt.Errorf("predicate: %w", err)
		}
		tmpl.Predicate = &program
	}

	if a.Service != "" {
		svc, ok := f.services[a.Service]
		if !ok {
			return tmpl, fmt.Errorf("unknown service %q", a.Service)
		}
		tmpl.ServiceType = svc.Type
		tmpl.Endpoint = svc.Endpoint
		tmpl.Timeout = svc.Timeout
		if tmpl.FailureMode == "" {
			tmpl.FailureMode = svc.FailureMode
		}
		return tmpl, nil
	}

	for i, entry := range a.ConditionalData {
		program, err := f.env.CompileValue(entry.Expression)
		if err != nil {
			return tmpl, fmt.Errorf("conditionalData[%d]: %w", i, err)
		}
		tmpl.Data = append(tmpl.Data, task.DataEntry{Path: attr.ParsePath(entry.Key), Expr: program})
	}

	for i, h := range a.Headers {
		mutation := task.HeaderMutation{Name: h.Name}
		switch h.Op {
		case "add":
			mutation.Op = task.HeaderAdd
		case "set":
			mutation.Op = task.HeaderSet
		case "remove":
			mutation.Op = task.HeaderRemove
		default:
			return tmpl, fmt.Errorf("headers[%d]: unsupported op %q", i, h.Op)
		}
		kind := pctx.RequestHeaderMap
		if h.Map == "response" {
			kind = pctx.ResponseHeaderMap
		}
		if mutation.Op != task.HeaderRemove {
			program, err := f.env.CompileValue(h.Value)
			if err != nil {
				return tmpl, fmt.Errorf("headers[%d]: %w", i, err)
			}
			mutation.Value = program
		}
		tmpl.Headers = append(tmpl.Headers, HeaderMutationTemplate{Kind: kind, Mutation: mutation})
	}

	return tmpl, nil
}
