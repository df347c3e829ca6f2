package context

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	defer func(origTable func() uintptr, origCPU func() uint32, origID ContextID) {
		activeTableAddrFn = origTable
		cpuIDFn = origCPU
		SetCurrentID(origID)
		directory = nil
		initialized = false
	}(activeTableAddrFn, cpuIDFn, CurrentID())

	activeTableAddrFn = func() uintptr { return 0x1000 }
	cpuIDFn = func() uint32 { return 2 }

	Init()

	list, release := Contexts()
	ctx := list.Current()
	release()

	require.NotNil(t, ctx)
	require.Equal(t, ctx.ID, CurrentID())
	require.True(t, ctx.Running)
	require.True(t, ctx.IsRunnable())
	require.Equal(t, 2, ctx.CPUID)
	require.Equal(t, "kmain", ctx.Name)
	require.NotZero(t, ctx.Arch.Fx())
	require.Equal(t, uintptr(0x1000), ctx.Arch.PageTable())

	require.PanicsWithValue(t, errAlreadyInitialized, Init)

	// The write lock must have been released by the panicking call.
	list, release = ContextsMut()
	require.Equal(t, 1, list.Len())
	release()
}
