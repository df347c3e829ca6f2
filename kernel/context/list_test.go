package context

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNewContextIdentifiers(t *testing.T) {
	list := newContextList(6)

	var ids []ContextID
	for i := 0; i < 5; i++ {
		ctx, err := list.NewContext()
		require.Nil(t, err)
		ids = append(ids, ctx.ID)
		require.Equal(t, Blocked, ctx.Status)
		require.Equal(t, ctx.ID, ctx.PGID)
		require.NotNil(t, ctx.Waitpid)
	}
	require.Equal(t, []ContextID{1, 2, 3, 4, 5}, ids)

	_, err := list.NewContext()
	require.Equal(t, ErrTryAgain, err)
	require.Equal(t, 5, list.Len())

	removed := list.Remove(3)
	require.NotNil(t, removed)
	require.Equal(t, ContextID(3), removed.ID)
	require.Nil(t, list.Get(3))
	require.Nil(t, list.Remove(3))

	// The identifier space wraps around and skips identifiers in use.
	ctx, err := list.NewContext()
	require.Nil(t, err)
	require.Equal(t, ContextID(3), ctx.ID)

	list.Remove(1)
	list.Remove(5)
	ctx, err = list.NewContext()
	require.Nil(t, err)
	require.Equal(t, ContextID(5), ctx.ID, "identifiers increase monotonically until they wrap")

	ctx, err = list.NewContext()
	require.Nil(t, err)
	require.Equal(t, ContextID(1), ctx.ID)
}

func TestContextListLookup(t *testing.T) {
	defer SetCurrentID(CurrentID())

	list := NewContextList()
	for i := 0; i < 4; i++ {
		_, err := list.NewContext()
		require.Nil(t, err)
	}

	require.Equal(t, ContextID(2), list.Get(2).ID)
	require.Nil(t, list.Get(42))

	SetCurrentID(3)
	require.Equal(t, ContextID(3), list.Current().ID)
	SetCurrentID(9)
	require.Nil(t, list.Current())

	var visited []ContextID
	list.Iter(func(ctx *Context) bool {
		visited = append(visited, ctx.ID)
		return ctx.ID < 3
	})
	require.Equal(t, []ContextID{1, 2, 3}, visited)
}

func spawnEntry() {}

func TestSpawn(t *testing.T) {
	defer func(orig func() uintptr) { activeTableAddrFn = orig }(activeTableAddrFn)
	activeTableAddrFn = func() uintptr { return 0x7000 }

	list := NewContextList()
	ctx, err := list.Spawn(spawnEntry)
	require.Nil(t, err)

	require.True(t, ctx.IsRunnable())
	require.Equal(t, uintptr(0x7000), ctx.Arch.PageTable())

	require.Len(t, ctx.KStack, KernelStackSize)
	stackBase := uintptr(unsafe.Pointer(&ctx.KStack[0]))
	sp := ctx.Arch.Stack()
	require.Equal(t, stackBase+KernelStackSize-wordSize, sp)
	require.Equal(t, funcAddr(spawnEntry), *(*uintptr)(unsafe.Pointer(sp)))
	require.Equal(t, uintptr(userCodeSelector), *(*uintptr)(unsafe.Pointer(sp - wordSize)))

	fx := ctx.Arch.Fx()
	require.Zero(t, fx%fxAlignment)
	fxBase := uintptr(unsafe.Pointer(&ctx.KFx[0]))
	require.True(t, fx >= fxBase && fx+FxAreaSize <= fxBase+uintptr(len(ctx.KFx)))
	for _, b := range ctx.KFx {
		require.Zero(t, b)
	}

	require.True(t, ctx.DecRef())
	require.Nil(t, ctx.KStack)
	require.Nil(t, ctx.KFx)
	require.Zero(t, ctx.Arch.Fx())
	require.Zero(t, ctx.Arch.Stack())
	require.PanicsWithValue(t, errRefUnderflow, func() { ctx.DecRef() })
}

func TestContextRefcount(t *testing.T) {
	ctx := newContext(1)
	ctx.KStack = make([]byte, 16)

	ctx.IncRef()
	require.False(t, ctx.DecRef())
	require.NotNil(t, ctx.KStack, "resources are kept while references remain")

	require.True(t, ctx.DecRef())
	require.Nil(t, ctx.KStack)
}
