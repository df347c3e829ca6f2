package kfmt

import "io"

// ringBufferSize is the capacity of the boot log. It must be a power of 2.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize-1 bytes written to it.
// Once full, new writes discard the oldest bytes.
type ringBuffer struct {
	data       [ringBufferSize]byte
	head, tail int
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[rb.tail] = b
		rb.tail = (rb.tail + 1) & (ringBufferSize - 1)
		if rb.tail == rb.head {
			rb.head = (rb.head + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes. It returns io.EOF once the buffer
// is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.head == rb.tail {
		return 0, io.EOF
	}

	// Copy the contiguous chunk that starts at head; a wrapped buffer needs
	// a second call to get the rest.
	end := rb.tail
	if rb.head > rb.tail {
		end = ringBufferSize
	}

	n := copy(p, rb.data[rb.head:end])
	rb.head = (rb.head + n) & (ringBufferSize - 1)
	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int {
	return (rb.tail - rb.head) & (ringBufferSize - 1)
}
