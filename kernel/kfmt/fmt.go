// Package kfmt implements the formatted output used by the kernel before and
// after the heap comes up. Nothing in this package allocates.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufLen is the size of the scratch buffer used for rendering integers.
const numBufLen = 32

var (
	tokMissing = []byte("(MISSING)")
	tokBadType = []byte("%!(WRONGTYPE)")
	tokNoVerb  = []byte("%!(NOVERB)")
	tokExtra   = []byte("%!(EXTRA)")
	tokTrue    = []byte("true")
	tokFalse   = []byte("false")
	hexDigits  = "0123456789abcdef"
	numBuf     [numBufLen]byte
	oneByte    = []byte{0}
	bootLog    ringBuffer
	outputSink io.Writer
)

// SetOutputSink redirects Printf output to w. Anything logged while no sink
// was attached is replayed into w first.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &bootLog)
	}
}

// Printf writes formatted output to the active sink or to the boot log when
// no sink is attached.
//
// The supported verbs are a subset of the fmt package:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  bool
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings and base 10 integers are
// left-padded with spaces; base 8 and base 16 integers are left-padded with
// zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but sends its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		litStart int
		pos      int
	)

	for pos < len(format) {
		if format[pos] != '%' {
			pos++
			continue
		}

		writeLiteral(w, format, litStart, pos)
		pos++

		width := 0
		for pos < len(format) && format[pos] >= '0' && format[pos] <= '9' {
			width = width*10 + int(format[pos]-'0')
			pos++
		}

		if pos == len(format) {
			emit(w, tokNoVerb)
			litStart = pos
			break
		}

		verb := format[pos]
		pos++
		litStart = pos

		switch verb {
		case '%':
			emitByte(w, '%')
			continue
		case 's', 'd', 'x', 'o', 't':
		default:
			emit(w, tokNoVerb)
			continue
		}

		if argIndex >= len(args) {
			emit(w, tokMissing)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	writeLiteral(w, format, litStart, pos)

	for ; argIndex < len(args); argIndex++ {
		emit(w, tokExtra)
	}
}

// writeLiteral copies format[from:to] to w. Slicing a string into a []byte
// would allocate so the bytes are sent one at a time.
func writeLiteral(w io.Writer, format string, from, to int) {
	for i := from; i < to; i++ {
		emitByte(w, format[i])
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		emit(w, tokBadType)
	case b:
		emit(w, tokTrue)
	default:
		emit(w, tokFalse)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			emitByte(w, s[i])
		}
	case []byte:
		pad(w, ' ', width-len(s))
		emit(w, s)
	default:
		emit(w, tokBadType)
	}
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		emitByte(w, ch)
	}
}

// fmtInt renders v in the requested base. Digits are produced from the right
// end of numBuf towards the left.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, neg = abs(int64(n))
	case int16:
		mag, neg = abs(int64(n))
	case int32:
		mag, neg = abs(int64(n))
	case int64:
		mag, neg = abs(n)
	case int:
		mag, neg = abs(int64(n))
	default:
		emit(w, tokBadType)
		return
	}

	if width > numBufLen-1 {
		width = numBufLen - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	start := numBufLen
	for {
		start--
		numBuf[start] = hexDigits[mag%base]
		mag /= base
		if mag == 0 {
			break
		}
	}

	// With space padding the sign sits right before the digits; with zero
	// padding it would be overwritten so it is only added when room is left.
	if neg && padCh == ' ' {
		start--
		numBuf[start] = '-'
	}

	for numBufLen-start < width && start > 0 {
		start--
		numBuf[start] = padCh
	}

	if neg && padCh == '0' && start > 0 {
		start--
		numBuf[start] = '-'
	}

	emit(w, numBuf[start:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func emitByte(w io.Writer, b byte) {
	oneByte[0] = b
	emit(w, oneByte)
}

// emit hides p from escape analysis before handing it to the writer. The
// writer is an interface value the compiler cannot see through, so without
// this every call site would move its argument to the heap.
func emit(w io.Writer, p []byte) {
	emitNoEscape(w, noEscape(unsafe.Pointer(&p)))
}

func emitNoEscape(w io.Writer, ptr unsafe.Pointer) {
	p := *(*[]byte)(ptr)
	if w == nil {
		_, _ = bootLog.Write(p)
		return
	}
	_, _ = w.Write(p)
}

// noEscape is the runtime/stubs.go trick for laundering a pointer through a
// uintptr.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
