package task

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/sse"
)

// TokenUsage parses streaming response bodies as Server-Sent Events,
// retaining only the last two events. Streaming completions place usage
// metrics in the penultimate event before a "[DONE]" sentinel, so the
// last two events are exactly what downstream needs.
type TokenUsage struct {
	TaskID  string
	Deps    []string
	OnUsage func(events []sse.Event)

	parser    sse.Parser
	lastTwo   []sse.Event
	totalSeen int
	consumed  int
}

func (t *TokenUsage) ID() (string, bool) { return t.TaskID, t.TaskID != "" }

func (t *TokenUsage) Dependencies() []string { return t.Deps }

func (t *TokenUsage) PausesFilter() bool { return false }

func (t *TokenUsage) Apply(ctx *pctx.Context) Outcome {
	total := ctx.ResponseBodyBufferSize()
	newBytes := total - t.consumed
	if newBytes < 0 {
		newBytes = 0
	}
	bodyState := ctx.GetHTTPResponseBody(t.consumed, newBytes)
	if bodyState.IsError() {
		return Failed(fmt.Errorf("task: token_usage: %w", bodyState.Error()))
	}
	body, ok := bodyState.Value()
	if !ok {
		return Requeued(t)
	}
	t.consumed += len(body)

	events := t.parser.Feed(body)
	for _, ev := range events {
		t.totalSeen++
		t.lastTwo = append(t.lastTwo, ev)
		if len(t.lastTwo) > 2 {
			t.lastTwo = t.lastTwo[len(t.lastTwo)-2:]
		}
	}

	if !ctx.IsEndOfStream() {
		return Requeued(t)
	}

	if t.totalSeen < 2 {
		return Failed(fmt.Errorf("task: token_usage: stream ended with %d event(s), need 2", t.totalSeen))
	}
	if t.OnUsage != nil {
		t.OnUsage(t.lastTwo)
	}
	return Done()
}
