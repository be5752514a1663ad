package sse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedBuffersIncompleteTrailingBytes(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("data:foo\n\n"))
	require.Len(t, events, 1)
	require.Equal(t, "foo", events[0].Data())

	events = p.Feed([]byte("data:bar"))
	require.Empty(t, events)

	events = p.Feed([]byte("\n\n"))
	require.Len(t, events, 1)
	require.Equal(t, "bar", events[0].Data())
}

func TestFeedSplitAcrossArbitraryBoundariesIsIdempotent(t *testing.T) {
	whole := "event:usage\ndata:one\n\ndata:two\n\n"

	var wholeParser Parser
	wantEvents := wholeParser.Feed([]byte(whole))

	splits := []int{1, 5, 12, 20}
	for _, at := range splits {
		var p Parser
		var got []Event
		got = append(got, p.Feed([]byte(whole[:at]))...)
		got = append(got, p.Feed([]byte(whole[at:]))...)
		require.Equal(t, wantEvents, got, "split at %d", at)
	}
}

func TestMultiLineDataJoinedWithNewline(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("data:line1\ndata:line2\n\n"))
	require.Len(t, events, 1)
	require.Equal(t, "line1\nline2", events[0].Data())
}
