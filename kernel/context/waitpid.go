package context

import (
	"github.com/google/btree"

	"hobbyos/kernel/sync"
)

// WaitpidKey indexes wait results by child pid or process group. A zero
// field is unset, as no context is ever assigned the id 0.
type WaitpidKey struct {
	PID  ContextID
	PGID ContextID
}

// Compare orders keys so that a parent can look up the result of a given
// child or of any child in a group. Keys are compared by pid when both have
// one, otherwise by pgid when both have one. Failing that, a key with a pid
// is greater than one without, then a key with a pgid is greater than one
// without. Keys with neither field set are equal.
func (k WaitpidKey) Compare(other WaitpidKey) int {
	if k.PID != 0 && other.PID != 0 {
		return compareIDs(k.PID, other.PID)
	}

	if k.PGID != 0 && other.PGID != 0 {
		return compareIDs(k.PGID, other.PGID)
	}

	switch {
	case k.PID != 0:
		return 1
	case other.PID != 0:
		return -1
	case k.PGID != 0:
		return 1
	case other.PGID != 0:
		return -1
	}
	return 0
}

// Less reports whether k orders before other.
func (k WaitpidKey) Less(other WaitpidKey) bool {
	return k.Compare(other) < 0
}

func compareIDs(a, b ContextID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// WaitStatus is the value stored for a waitpid key: the context that changed
// state and its status code.
type WaitStatus struct {
	ID   ContextID
	Code uintptr
}

type waitEntry struct {
	key   WaitpidKey
	value WaitStatus
}

const waitMapDegree = 4

// WaitMap holds pending wait results ordered by WaitpidKey. Receiving never
// blocks; callers that need to wait block their context and retry when
// woken.
type WaitMap struct {
	lock    sync.Spinlock
	entries *btree.BTreeG[waitEntry]
}

// NewWaitMap returns an empty WaitMap.
func NewWaitMap() *WaitMap {
	return &WaitMap{
		entries: btree.NewG(waitMapDegree, func(a, b waitEntry) bool {
			return a.key.Less(b.key)
		}),
	}
}

// Send stores value under key, replacing any result with an equal key.
func (w *WaitMap) Send(key WaitpidKey, value WaitStatus) {
	w.lock.Acquire()
	defer w.lock.Release()

	w.entries.ReplaceOrInsert(waitEntry{key: key, value: value})
}

// ReceiveNonblock removes and returns the result stored under a key equal
// to key.
func (w *WaitMap) ReceiveNonblock(key WaitpidKey) (WaitStatus, bool) {
	w.lock.Acquire()
	defer w.lock.Release()

	entry, ok := w.entries.Delete(waitEntry{key: key})
	return entry.value, ok
}

// ReceiveAnyNonblock removes and returns the result with the lowest key.
func (w *WaitMap) ReceiveAnyNonblock() (WaitpidKey, WaitStatus, bool) {
	w.lock.Acquire()
	defer w.lock.Release()

	entry, ok := w.entries.DeleteMin()
	return entry.key, entry.value, ok
}

// Len returns the number of pending results.
func (w *WaitMap) Len() int {
	w.lock.Acquire()
	defer w.lock.Release()

	return w.entries.Len()
}
