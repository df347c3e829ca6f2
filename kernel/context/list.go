package context

import (
	"sync/atomic"

	"github.com/google/btree"

	"hobbyos/kernel"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm/vmm"
)

// MaxContexts bounds the identifier space. Identifiers are assigned from
// [1, MaxContexts).
const MaxContexts = ContextID(1 << 16)

const contextListDegree = 8

var (
	// ErrTryAgain is returned when every context identifier is in use.
	ErrTryAgain = &kernel.Error{Module: "context", Message: "no free context identifier; try again"}

	// activeTableAddrFn returns the physical address of the active P4 table.
	activeTableAddrFn = func() uintptr {
		active := vmm.NewActivePageTable()
		return active.Address()
	}
)

// ContextList is the directory of contexts, ordered by identifier.
type ContextList struct {
	contexts *btree.BTreeG[*Context]
	nextID   ContextID
	limit    ContextID
}

// NewContextList returns an empty directory.
func NewContextList() *ContextList {
	return newContextList(MaxContexts)
}

func newContextList(limit ContextID) *ContextList {
	return &ContextList{
		contexts: btree.NewG(contextListDegree, func(a, b *Context) bool {
			return a.ID < b.ID
		}),
		nextID: 1,
		limit:  limit,
	}
}

// Len returns the number of listed contexts.
func (l *ContextList) Len() int {
	return l.contexts.Len()
}

// Get returns the context with the given id or nil.
func (l *ContextList) Get(id ContextID) *Context {
	ctx, _ := l.contexts.Get(&Context{ID: id})
	return ctx
}

// Current returns the context running on this core or nil.
func (l *ContextList) Current() *Context {
	return l.Get(CurrentID())
}

// Iter calls fn for each context in identifier order until fn returns
// false.
func (l *ContextList) Iter(fn func(*Context) bool) {
	l.contexts.Ascend(btree.ItemIteratorG[*Context](fn))
}

// NewContext lists a new blocked context under the next free identifier.
// Identifiers increase monotonically, wrap around to 1 at the limit and skip
// identifiers that are still in use. ErrTryAgain is returned if none is
// free.
func (l *ContextList) NewContext() (*Context, *kernel.Error) {
	for tries := ContextID(1); tries < l.limit; tries++ {
		if l.nextID >= l.limit {
			l.nextID = 1
		}

		id := l.nextID
		l.nextID++

		if l.Get(id) != nil {
			continue
		}

		ctx := newContext(id)
		l.contexts.ReplaceOrInsert(ctx)
		return ctx, nil
	}

	return nil, ErrTryAgain
}

// Spawn creates a runnable kernel thread that starts executing entry the
// first time it is switched to. The thread shares the active page table.
func (l *ContextList) Spawn(entry func()) (*Context, *kernel.Error) {
	ctx, err := l.NewContext()
	if err != nil {
		return nil, err
	}

	ctx.Lock()
	defer ctx.Unlock()

	entryAddr := funcAddr(entry)
	fx, fxAddr := newFxArea()
	stack := make([]byte, KernelStackSize)

	ctx.Arch.SetPageTable(activeTableAddrFn())
	ctx.Arch.SetFx(fxAddr)
	ctx.Arch.SetStack(BuildInitialFrame(stack, entryAddr))
	ctx.KFx = fx
	ctx.KStack = stack
	ctx.Unblock()

	kfmt.Printf("[context] spawned %d with entry 0x%x\n", uint64(ctx.ID), entryAddr)
	return ctx, nil
}

// Remove deletes the context with the given id from the directory and
// returns it. The directory reference passes to the caller, which must call
// DecRef once done with the context.
func (l *ContextList) Remove(id ContextID) *Context {
	ctx, _ := l.contexts.Delete(&Context{ID: id})
	return ctx
}

var currentID uint64

// CurrentID returns the id of the context running on this core.
func CurrentID() ContextID {
	return ContextID(atomic.LoadUint64(&currentID))
}

// SetCurrentID records the context the switch routine has switched to.
func SetCurrentID(id ContextID) {
	atomic.StoreUint64(&currentID, uint64(id))
}
