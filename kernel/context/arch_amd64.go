package context

import "unsafe"

const (
	// KernelStackSize is the size of the kernel stack given to spawned
	// contexts.
	KernelStackSize = 64 * 1024

	// FxAreaSize is the size of the FXSAVE area. It must be 16-byte aligned.
	FxAreaSize  = 512
	fxAlignment = 16

	// userCodeSelector is the value placed below the entry address on a new
	// kernel stack.
	userCodeSelector = 0x23

	wordSize = unsafe.Sizeof(uintptr(0))
)

// ArchContext is the register save area read and written by the context
// switch routine. Only callee-saved registers are kept; the switch routine
// saves everything else on the stack of the context being switched out.
type ArchContext struct {
	// loadable is set once the FX area holds a valid FXSAVE image.
	loadable bool

	fx     uintptr
	cr3    uintptr
	rflags uintptr
	rbx    uintptr
	r12    uintptr
	r13    uintptr
	r14    uintptr
	r15    uintptr
	rbp    uintptr
	rsp    uintptr
}

// SetPageTable sets the physical address of the P4 table loaded when the
// context is switched in.
func (a *ArchContext) SetPageTable(addr uintptr) { a.cr3 = addr }

// PageTable returns the physical address of the context P4 table.
func (a *ArchContext) PageTable() uintptr { return a.cr3 }

// SetFx sets the address of the FXSAVE area.
func (a *ArchContext) SetFx(addr uintptr) { a.fx = addr }

// Fx returns the address of the FXSAVE area.
func (a *ArchContext) Fx() uintptr { return a.fx }

// SetStack sets the stack pointer restored by the switch routine.
func (a *ArchContext) SetStack(addr uintptr) { a.rsp = addr }

// Stack returns the saved stack pointer.
func (a *ArchContext) Stack() uintptr { return a.rsp }

// BuildInitialFrame prepares stack so that the first switch to the context
// starts executing at entry, and returns the stack pointer to save.
//
// The switch routine restores the callee-saved registers, loads rsp and
// executes RET. The returned stack pointer therefore addresses the entry
// address in the top word of the stack; the word below it holds the code
// segment selector.
func BuildInitialFrame(stack []byte, entry uintptr) uintptr {
	base := uintptr(unsafe.Pointer(&stack[0]))
	top := base + uintptr(len(stack)) - wordSize

	*(*uintptr)(unsafe.Pointer(top)) = entry
	*(*uintptr)(unsafe.Pointer(top - wordSize)) = userCodeSelector
	return top
}

// newFxArea returns a zeroed FXSAVE area and its 16-byte aligned address.
func newFxArea() ([]byte, uintptr) {
	buf := make([]byte, FxAreaSize+fxAlignment-1)
	addr := (uintptr(unsafe.Pointer(&buf[0])) + fxAlignment - 1) &^ (fxAlignment - 1)
	return buf, addr
}

// funcAddr returns the entry address of fn.
func funcAddr(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}
