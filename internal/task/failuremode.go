package task

import "github.com/kuadrant/policy-pipeline/internal/pctx"

// FailureMode wraps a task so that a Failed outcome is converted into
// either a synthesized terminal reply (Abort) or a silent Done. Every other
// outcome kind passes through unchanged, except Deferred, whose pending
// task is re-wrapped so the same policy applies when it resumes.
type FailureMode struct {
	Inner        Task
	Abort        bool
	OnFailure    func(taskName string)
	DefaultReply *SendReply
}

func (f *FailureMode) ID() (string, bool) { return f.Inner.ID() }

func (f *FailureMode) Dependencies() []string { return f.Inner.Dependencies() }

func (f *FailureMode) PausesFilter() bool { return f.Inner.PausesFilter() }

func (f *FailureMode) Apply(ctx *pctx.Context) Outcome {
	return f.wrap(f.Inner.Apply(ctx))
}

func (f *FailureMode) wrap(outcome Outcome) Outcome {
	switch outcome.Kind {
	case KindFailed:
		if f.OnFailure != nil {
			name, _ := f.Inner.ID()
			f.OnFailure(name)
		}
		if f.Abort {
			reply := f.DefaultReply
			if reply == nil {
				reply = &SendReply{Status: 500}
			}
			return TerminateOutcome(reply)
		}
		return Done()
	case KindDeferred:
		inner := outcome.Pending
		wrapped := &FailureMode{
			Inner:        inner,
			Abort:        f.Abort,
			OnFailure:    f.OnFailure,
			DefaultReply: f.DefaultReply,
		}
		return DeferredOutcome(outcome.Token, wrapped)
	default:
		return outcome
	}
}
