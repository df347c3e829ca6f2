package context

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMachine(t *testing.T) {
	ctx := newContext(1)
	require.Equal(t, Blocked, ctx.Status)

	require.False(t, ctx.Block(), "blocking a blocked context must fail")
	require.Equal(t, Blocked, ctx.Status)

	require.True(t, ctx.Unblock())
	require.True(t, ctx.IsRunnable())

	require.False(t, ctx.Unblock(), "unblocking a runnable context must fail")
	require.Equal(t, Runnable, ctx.Status)

	require.True(t, ctx.Block())
	require.True(t, ctx.Unblock())
	require.Equal(t, Runnable, ctx.Status)

	for _, terminal := range []Status{Stopped(19), Exited(0)} {
		ctx.Status = terminal
		require.False(t, ctx.Block())
		require.False(t, ctx.Unblock())
		require.Equal(t, terminal, ctx.Status)
		require.False(t, ctx.IsRunnable())
	}
}

func TestStatusCodes(t *testing.T) {
	specs := []struct {
		status  Status
		code    uintptr
		hasCode bool
		str     string
	}{
		{Runnable, 0, false, "runnable"},
		{Blocked, 0, false, "blocked"},
		{Stopped(19), 19, true, "stopped"},
		{Exited(3), 3, true, "exited"},
	}

	for specIndex, spec := range specs {
		code, ok := spec.status.Code()
		require.Equalf(t, spec.code, code, "[spec %d]", specIndex)
		require.Equalf(t, spec.hasCode, ok, "[spec %d]", specIndex)
		require.Equalf(t, spec.str, spec.status.String(), "[spec %d]", specIndex)
	}

	require.NotEqual(t, Exited(1), Exited(2))
	require.NotEqual(t, Stopped(1), Exited(1))
	require.True(t, Stopped(1).IsStopped())
	require.True(t, Exited(1).IsExited())
}
