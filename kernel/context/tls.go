package context

import "hobbyos/kernel"

// Tls is the thread local storage area of a context. The initialised part of
// the master image is copied to Mem at Offset when the area is loaded.
type Tls struct {
	Master   uintptr
	FileSize uintptr
	Mem      *Memory
	Offset   uintptr
}

// Load copies the master image into the TLS region.
func (t *Tls) Load() {
	kernel.Memcopy(t.Master, t.Mem.Start()+t.Offset, t.FileSize)
}
