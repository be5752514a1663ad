package blueprint

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/config"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// Status tags the outcome of a per-request blueprint selection.
type Status int

const (
	// StatusOK reports a blueprint was selected and its tasks instantiated.
	StatusOK Status = iota
	// StatusNone reports no blueprint applies to this request; the filter
	// builds no pipeline and simply forwards traffic.
	StatusNone
	// StatusDataPending reports request.host, or a route predicate, is not
	// yet observable in the current filter phase; the caller must keep the
	// request paused and retry on the next callback.
	StatusDataPending
	// StatusEvaluationError reports a structural failure: a predicate
	// yielded a non-boolean result, or its evaluation errored.
	StatusEvaluationError
)

// Result is what Factory.Build returns: a Status and, on StatusOK, the
// instantiated ready queue for a fresh Pipeline.
type Result struct {
	Status    Status
	ActionSet string
	Tasks     []task.Task
	Err       error
}

// Build selects a blueprint for ctx's current request.host and instantiates
// its action templates into a task queue, following the algorithm in
// spec.md §4.5: Pending host or predicate defers the whole request; an
// absent host or no matching blueprint yields no pipeline; a non-boolean or
// erroring predicate is a structural failure.
func (f *Factory) Build(ctx *pctx.Context) Result {
	hostState := ctx.GetAttribute(attr.NewPath("request", "host"))
	if hostState.IsPending() {
		return Result{Status: StatusDataPending}
	}
	if hostState.IsError() {
		return Result{Status: StatusEvaluationError, Err: hostState.Error()}
	}
	host, ok := hostState.Value()
	if !ok || host.AsString() == "" {
		return Result{Status: StatusNone}
	}
	hostname := host.AsString()

	blueprints, found := f.index.Lookup(hostname)
	if f.opts.Metrics != nil {
		f.opts.Metrics.HostnameLookup(hostname, found)
	}
	if !found {
		return Result{Status: StatusNone}
	}

	for _, bp := range blueprints {
		matched, status, err := f.evalRoutePredicates(bp, ctx)
		if status != StatusOK {
			return Result{Status: status, Err: err}
		}
		if !matched {
			continue
		}
		tasks, err := f.instantiate(bp)
		if err != nil {
			return Result{Status: StatusEvaluationError, Err: err}
		}
		return Result{Status: StatusOK, ActionSet: bp.Name, Tasks: tasks}
	}
	return Result{Status: StatusNone}
}

func (f *Factory) evalRoutePredicates(bp *Blueprint, ctx *pctx.Context) (matched bool, status Status, err error) {
	for _, pred := range bp.RoutePredicates {
		state, evalErr := expr.EvalPredicate(pred, ctx, f.requestData)
		if evalErr != nil {
			return false, StatusEvaluationError, evalErr
		}
		if state.IsPending() {
			return false, StatusDataPending, nil
		}
		v, _ := state.Value()
		if !v {
			return false, StatusOK, nil
		}
	}
	return true, StatusOK, nil
}

func (f *Factory) instantiate(bp *Blueprint) ([]task.Task, error) {
	tasks := make([]task.Task, 0, len(bp.ActionTemplates))
	for _, tmpl := range bp.ActionTemplates {
		t, err := f.instantiateAction(tmpl)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t...)
	}
	return tasks, nil
}

func (f *Factory) instantiateAction(tmpl ActionTemplate) ([]task.Task, error) {
	var built []task.Task

	if tmpl.Service != "" {
		t, err := f.instantiateDispatch(tmpl)
		if err != nil {
			return nil, err
		}
		built = append(built, t)
	}

	if len(tmpl.Data) > 0 {
		built = append(built, &task.StoreData{
			TaskID:      tmpl.Name + ".store",
			Entries:     tmpl.Data,
			RequestData: f.requestData,
		})
	}

	byKind := map[pctx.MapKind][]task.HeaderMutation{}
	var order []pctx.MapKind
	for _, h := range tmpl.Headers {
		if _, seen := byKind[h.Kind]; !seen {
			order = append(order, h.Kind)
		}
		byKind[h.Kind] = append(byKind[h.Kind], h.Mutation)
	}
	for _, kind := range order {
		built = append(built, &task.ModifyHeaders{
			TaskID:      fmt.Sprintf("%s.headers.%d", tmpl.Name, kind),
			Kind:        kind,
			Mutations:   byKind[kind],
			RequestData: f.requestData,
		})
	}

	if tmpl.Predicate != nil {
		wrapped := make([]task.Task, len(built))
		for i, t := range built {
			wrapped[i] = &task.Conditional{Inner: t, Predicate: *tmpl.Predicate, RequestData: f.requestData}
		}
		built = wrapped
	}

	return built, nil
}

func (f *Factory) instantiateDispatch(tmpl ActionTemplate) (task.Task, error) {
	abort := tmpl.FailureMode == config.FailureModeDeny
	var inner task.Task

	switch tmpl.ServiceType {
	case config.ServiceAuth:
		codec := f.opts.AuthCodecs[tmpl.Service]
		if codec == nil {
			return nil, fmt.Errorf("no auth codec registered for service %q", tmpl.Service)
		}
		inner = &task.Auth{
			TaskID:   tmpl.Name,
			Upstream: tmpl.Endpoint,
			Service:  tmpl.Service,
			Timeout:  tmpl.Timeout,
			Codec:    codec,
		}
	case config.ServiceRateLimit, config.ServiceRateLimitCheck, config.ServiceRateLimitReport:
		codec := f.opts.RateLimitCodecs[tmpl.Service]
		if codec == nil {
			return nil, fmt.Errorf("no ratelimit codec registered for service %q", tmpl.Service)
		}
		inner = &task.RateLimit{
			TaskID:     tmpl.Name,
			Upstream:   tmpl.Endpoint,
			Timeout:    tmpl.Timeout,
			Codec:      codec,
			ReportOnly: tmpl.ServiceType == config.ServiceRateLimitReport,
		}
	default:
		return nil, fmt.Errorf("action %q: unsupported service type %q", tmpl.Name, tmpl.ServiceType)
	}

	wrapped := task.Task(&task.FailureMode{
		Inner:        inner,
		Abort:        abort,
		OnFailure:    f.onTaskFailure,
		DefaultReply: &task.SendReply{Status: 500},
	})
	if f.opts.Tracer != nil {
		wrapped = &task.Tracing{Inner: wrapped, SpanName: tmpl.Name, Tracer: f.opts.Tracer}
	}
	return wrapped, nil
}

func (f *Factory) onTaskFailure(name string) {
	if f.opts.Metrics != nil {
		f.opts.Metrics.TaskFailed(name)
	}
}
