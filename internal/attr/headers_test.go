package attr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeadersSetReplacesHistory(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Custom", "first")
	h.Append("X-Custom", "second")
	h.Set("X-Custom", "third")

	require.Equal(t, []string{"third"}, h.GetAll("X-Custom"))
}

func TestHeadersAppendAccumulates(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Custom", "v1")
	h.Append("X-Custom", "v2")

	require.Equal(t, []string{"v1", "v2"}, h.GetAll("X-Custom"))
	first, ok := h.GetFirst("X-Custom")
	require.True(t, ok)
	require.Equal(t, "v1", first)
}

func TestHeadersMapJoinsDuplicates(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Custom", "v1")
	h.Append("x-custom", "v2")

	m := h.Map()
	require.Equal(t, "v1,v2", m["x-custom"])
}

func TestHeadersRemoveAllCaseInsensitive(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Custom", "v1")
	h.RemoveAll("x-CUSTOM")
	require.Empty(t, h.GetAll("X-Custom"))
}

func TestHeadersExtend(t *testing.T) {
	a := NewHeaders()
	a.Append("A", "1")
	b := NewHeaders()
	b.Append("B", "2")
	a.Extend(b)
	require.Len(t, a.Entries(), 2)
}
