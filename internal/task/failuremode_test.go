package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

type fakeTask struct {
	id      string
	deps    []string
	paused  bool
	outcome Outcome
}

func (f *fakeTask) ID() (string, bool) { return f.id, f.id != "" }

func (f *fakeTask) Dependencies() []string { return f.deps }

func (f *fakeTask) PausesFilter() bool { return f.paused }

func (f *fakeTask) Apply(*pctx.Context) Outcome { return f.outcome }

func TestFailureModeAbortTerminatesWithDefaultReply(t *testing.T) {
	ctx := newTestContext()
	inner := &fakeTask{id: "risky", outcome: Failed(errors.New("boom"))}
	var failedName string
	fm := &FailureMode{Inner: inner, Abort: true, OnFailure: func(name string) { failedName = name }}

	outcome := fm.Apply(ctx)
	require.Equal(t, KindTerminate, outcome.Kind)
	reply, ok := outcome.Terminal.(*SendReply)
	require.True(t, ok)
	require.EqualValues(t, 500, reply.Status)
	require.Equal(t, "risky", failedName)
}

func TestFailureModeNonAbortSwallowsFailureAsDone(t *testing.T) {
	ctx := newTestContext()
	inner := &fakeTask{id: "risky", outcome: Failed(errors.New("boom"))}
	fm := &FailureMode{Inner: inner, Abort: false}

	outcome := fm.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)
}

func TestFailureModeRewrapsDeferredPending(t *testing.T) {
	ctx := newTestContext()
	pending := &fakeTask{id: "risky"}
	inner := &fakeTask{id: "risky", outcome: DeferredOutcome(7, pending)}
	fm := &FailureMode{Inner: inner, Abort: true}

	outcome := fm.Apply(ctx)
	require.Equal(t, KindDeferred, outcome.Kind)
	require.EqualValues(t, 7, outcome.Token)
	wrapped, ok := outcome.Pending.(*FailureMode)
	require.True(t, ok)
	require.Same(t, pending, wrapped.Inner)
}

func TestFailureModePassesThroughOtherOutcomes(t *testing.T) {
	ctx := newTestContext()
	inner := &fakeTask{id: "ok", outcome: Done()}
	fm := &FailureMode{Inner: inner, Abort: true}

	outcome := fm.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)
}
