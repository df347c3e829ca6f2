package context

import "sync/atomic"

// SwitchThreshold is the number of timer ticks after which a context switch
// is requested.
const SwitchThreshold = 10

var (
	ticks uint64

	// switchFn is the external switch routine.
	switchFn func()
)

// SetSwitchFn registers the routine invoked when the tick counter reaches
// SwitchThreshold and returns the previous one.
func SetSwitchFn(fn func()) func() {
	prev := switchFn
	switchFn = fn
	return prev
}

// Tick is called by the timer interrupt handler. It increments the tick
// counter and, once the threshold is reached, resets it and invokes the
// switch routine. It returns true if a switch was requested.
func Tick() bool {
	if atomic.AddUint64(&ticks, 1) < SwitchThreshold {
		return false
	}

	atomic.StoreUint64(&ticks, 0)
	if switchFn != nil {
		switchFn()
	}
	return true
}

// Ticks returns the number of ticks since the last requested switch.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// ResetTicks clears the tick counter. The switch routine calls it whenever
// it switches contexts, including voluntary switches.
func ResetTicks() {
	atomic.StoreUint64(&ticks, 0)
}
