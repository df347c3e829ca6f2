package vmm

import (
	"sync/atomic"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

// flushSlots bounds the number of flush tokens that can be outstanding at
// the same time.
const flushSlots = 256

var (
	// pendingFlushes counts flush tokens that have been handed out but not
	// yet flushed or ignored.
	pendingFlushes int64

	// flushStates holds the state of each token slot: the slot generation
	// shifted left by one, with bit 0 set while the token is live. Tokens
	// carry the state they were issued with, so every copy of a token shares
	// the slot and only the first consume succeeds.
	flushStates [flushSlots]uint64

	errFlushConsumed    = &kernel.Error{Module: "vmm", Message: "flush token used more than once"}
	errFlushUnderflow   = &kernel.Error{Module: "vmm", Message: "more flush tokens consumed than were issued"}
	errFlushesPending   = &kernel.Error{Module: "vmm", Message: "page table edits have not been flushed"}
	errFlushAllConsumed = &kernel.Error{Module: "vmm", Message: "batched flush token used more than once"}
	errTooManyFlushes   = &kernel.Error{Module: "vmm", Message: "too many outstanding flush tokens"}
)

// flushToken identifies one issued token. The zero value is never live.
type flushToken struct {
	// slot is the index into flushStates plus one.
	slot  uint32
	state uint64
}

func issueFlushToken() flushToken {
	for i := range flushStates {
		cur := atomic.LoadUint64(&flushStates[i])
		if cur&1 != 0 {
			continue
		}

		// Next generation, live.
		next := cur + 3
		if atomic.CompareAndSwapUint64(&flushStates[i], cur, next) {
			atomic.AddInt64(&pendingFlushes, 1)
			return flushToken{slot: uint32(i) + 1, state: next}
		}
	}

	panic(errTooManyFlushes)
}

// consume marks the token dead. It returns false if the token, or any copy
// of it, was already consumed.
func (tok flushToken) consume() bool {
	if tok.slot == 0 {
		return false
	}

	if !atomic.CompareAndSwapUint64(&flushStates[tok.slot-1], tok.state, tok.state&^1) {
		return false
	}
	releaseFlushes(1)
	return true
}

// MapperFlush is returned by every operation that edits a page table entry.
// The caller must either Flush it, invalidating the TLB entry for the page,
// or Ignore it, for instance when the edited tables are not active. Copies
// of a token share its state: consuming any of them consumes all.
type MapperFlush struct {
	page  mm.Page
	token flushToken
}

func newMapperFlush(page mm.Page) MapperFlush {
	return MapperFlush{page: page, token: issueFlushToken()}
}

// Page returns the page whose translation changed.
func (f *MapperFlush) Page() mm.Page {
	return f.page
}

// Flush invalidates the TLB entry for the page.
func (f *MapperFlush) Flush() {
	f.consume()
	flushTLBEntryFn(f.page.Address())
}

// Ignore discards the token without touching the TLB.
func (f *MapperFlush) Ignore() {
	f.consume()
}

func (f *MapperFlush) consume() {
	if !f.token.consume() {
		panic(errFlushConsumed)
	}
}

// MapperFlushAll batches several flush tokens into a single full TLB flush.
type MapperFlushAll struct {
	pending bool
	token   flushToken
}

// NewMapperFlushAll returns an empty batch.
func NewMapperFlushAll() MapperFlushAll {
	return MapperFlushAll{token: issueFlushToken()}
}

// Consume adds f to the batch.
func (fa *MapperFlushAll) Consume(f *MapperFlush) {
	if !fa.isLive() {
		panic(errFlushAllConsumed)
	}
	f.consume()
	fa.pending = true
}

// Flush flushes the whole TLB of the active table if any token was consumed.
func (fa *MapperFlushAll) Flush(active *ActivePageTable) {
	fa.finish()
	if fa.pending {
		active.FlushAll()
	}
}

// Ignore discards the batch without touching the TLB.
func (fa *MapperFlushAll) Ignore() {
	fa.finish()
}

func (fa *MapperFlushAll) finish() {
	if !fa.token.consume() {
		panic(errFlushAllConsumed)
	}
}

func (fa *MapperFlushAll) isLive() bool {
	return fa.token.slot != 0 && atomic.LoadUint64(&flushStates[fa.token.slot-1]) == fa.token.state
}

func releaseFlushes(n int64) {
	if atomic.AddInt64(&pendingFlushes, -n) < 0 {
		panic(errFlushUnderflow)
	}
}

// PendingFlushes returns the number of outstanding flush tokens.
func PendingFlushes() int64 {
	return atomic.LoadInt64(&pendingFlushes)
}

// AssertFlushed panics if any flush token is outstanding.
func AssertFlushed() {
	if PendingFlushes() != 0 {
		panic(errFlushesPending)
	}
}
