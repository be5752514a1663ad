package attr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateAvailable(t *testing.T) {
	s := Avail(42)
	v, ok := s.Value()
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.True(t, s.IsAvailable())
	require.False(t, s.IsPending())
}

func TestStatePending(t *testing.T) {
	s := Pending[string]()
	require.True(t, s.IsPending())
	_, ok := s.Value()
	require.False(t, ok)
}

func TestStateError(t *testing.T) {
	s := Err[int](errors.New("boom"))
	require.True(t, s.IsError())
	require.EqualError(t, s.Error(), "boom")
}

func TestStateMapPreservesPending(t *testing.T) {
	s := Pending[int]()
	mapped := Map(s, func(v int) string { return "x" })
	require.True(t, mapped.IsPending())
}
