//go:build linux && amd64

package memtest

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"hobbyos/kernel/boot"
)

const testWindow = uintptr(0x300000000000)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{PhysSize: 1 << 20, WindowStart: testWindow, WindowSize: 16 * pageSize})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// mapPage installs a 4-level translation for va using the tables at
// 0x3000-0x5000 and the frame at phys.
func mapPage(m *Machine, va, phys uintptr, writable bool) {
	leaf := uint64(phys) | ptePresent
	if writable {
		leaf |= pteRW
	}
	m.writeEntry(m.cr3, (va>>39)&511, 0x3000|ptePresent|pteRW)
	m.writeEntry(0x3000, (va>>30)&511, 0x4000|ptePresent|pteRW)
	m.writeEntry(0x4000, (va>>21)&511, 0x5000|ptePresent|pteRW)
	m.writeEntry(0x5000, (va>>12)&511, leaf)
}

func TestNewValidation(t *testing.T) {
	specs := []Config{
		{PhysSize: 0x1000, WindowStart: testWindow, WindowSize: pageSize},
		{PhysSize: 1 << 20, WindowStart: testWindow + 1, WindowSize: pageSize},
		{PhysSize: 1 << 20, WindowStart: testWindow, WindowSize: 0},
	}

	for i, cfg := range specs {
		m, err := New(cfg)
		require.Errorf(t, err, "[spec %d] expected an error", i)
		require.Nil(t, m)
	}
}

func TestBootState(t *testing.T) {
	m := newTestMachine(t)

	require.Equal(t, BootP4Addr, m.ActivePDT())

	entry := m.readEntry(BootP4Addr, p4Index(m.PhysicalMemoryOffset()))
	require.Equal(t, uint64(physMapTableAddr)|ptePresent|pteRW, entry)

	info := m.BootInfo()
	require.Equal(t, m.PhysicalMemoryOffset(), info.PhysicalMemoryOffset)
	require.Len(t, info.MemoryMap, 2)
	require.Equal(t, boot.Usable, info.MemoryMap[1].Type)
	require.Equal(t, uint64(1<<20), info.MemoryMap[1].End())

	start, size := m.Window()
	require.Equal(t, testWindow, start)
	require.Equal(t, 16*pageSize, size)
}

func TestFlushTLBEntry(t *testing.T) {
	m := newTestMachine(t)
	va := testWindow + 3*pageSize

	mapPage(m, va, 0x20000, true)
	m.FlushTLBEntry(va + 0x10)

	phys, writable, ok := m.Translate(va + 0x123)
	require.True(t, ok)
	require.True(t, writable)
	require.Equal(t, uintptr(0x20123), phys)

	*(*uint32)(unsafe.Pointer(va + 8)) = 0xdeadbeef
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, m.Phys(0x20008, 4))

	// the host mapping follows the tables only after a flush
	m.writeEntry(0x5000, (va>>12)&511, 0)
	m.FlushTLBEntry(va)
	_, _, ok = m.Translate(va)
	require.False(t, ok)
	require.Equal(t, 2, m.FlushCount())

	// addresses outside the window are ignored
	m.FlushTLBEntry(0x1000)
	require.Equal(t, 3, m.FlushCount())
}

func TestSwitchPDT(t *testing.T) {
	m := newTestMachine(t)
	va := testWindow

	mapPage(m, va, 0x21000, true)
	m.FlushTLB()
	*(*byte)(unsafe.Pointer(va)) = 42

	// an empty P4 at 0x6000 has no translation for va
	m.SwitchPDT(0x6000)
	_, _, ok := m.Translate(va)
	require.False(t, ok)

	m.SwitchPDT(BootP4Addr)
	require.Equal(t, byte(42), *(*byte)(unsafe.Pointer(va)))
}
