package context

type statusKind uint8

const (
	runnable statusKind = iota
	blocked
	stopped
	exited
)

// Status is the scheduling state of a context. Runnable and Blocked contexts
// move between each other; Stopped and Exited carry the code reported to
// waiting parents.
type Status struct {
	kind statusKind
	code uintptr
}

var (
	// Runnable contexts may be picked by the scheduler.
	Runnable = Status{kind: runnable}

	// Blocked contexts are skipped until they are unblocked.
	Blocked = Status{kind: blocked}
)

// Stopped returns the status of a context stopped by the given signal code.
func Stopped(code uintptr) Status { return Status{kind: stopped, code: code} }

// Exited returns the status of a context that exited with code.
func Exited(code uintptr) Status { return Status{kind: exited, code: code} }

// Code returns the stop or exit code. The second value is false for the
// Runnable and Blocked states.
func (s Status) Code() (uintptr, bool) {
	return s.code, s.kind == stopped || s.kind == exited
}

// IsStopped reports whether the status was created with Stopped.
func (s Status) IsStopped() bool { return s.kind == stopped }

// IsExited reports whether the status was created with Exited.
func (s Status) IsExited() bool { return s.kind == exited }

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s.kind {
	case runnable:
		return "runnable"
	case blocked:
		return "blocked"
	case stopped:
		return "stopped"
	default:
		return "exited"
	}
}
