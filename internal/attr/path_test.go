package attr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePathRoundTrip(t *testing.T) {
	cases := [][]string{
		{"request", "host"},
		{"one.two", "", "three\\\\", "four\\.five", ""},
		{"a"},
		{""},
	}
	for _, tokens := range cases {
		p := NewPath(tokens...)
		rendered := p.String()
		parsed := ParsePath(rendered)
		require.True(t, p.Equal(parsed), "round trip mismatch for %v via %q -> %v", tokens, rendered, parsed.Tokens())
	}
}

func TestParsePathEscapes(t *testing.T) {
	parsed := ParsePath(`one\.two..three\\\\.four\\\.\five.`)
	require.Equal(t, []string{"one.two", "", "three\\\\", "four\\.five", ""}, parsed.Tokens())
}

func TestParsePathTrailingBackslashYieldsNoToken(t *testing.T) {
	parsed := ParsePath(`a.b\`)
	require.Equal(t, []string{"a", "b"}, parsed.Tokens())
}

func TestPathEqual(t *testing.T) {
	require.True(t, NewPath("a", "b").Equal(NewPath("a", "b")))
	require.False(t, NewPath("a", "b").Equal(NewPath("a", "c")))
	require.False(t, NewPath("a").Equal(NewPath("a", "b")))
}
