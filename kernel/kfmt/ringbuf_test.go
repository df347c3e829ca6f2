package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	const msg = "the quick brown fox jumps over the lazy dog"

	specs := []struct {
		descr string
		start int
	}{
		{"contiguous", 0},
		{"wrapping", ringBufferSize - 5},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			rb := ringBuffer{head: spec.start, tail: spec.start}
			n, err := rb.Write([]byte(msg))
			if err != nil {
				t.Fatal(err)
			}
			if n != len(msg) {
				t.Fatalf("expected to write %d bytes; wrote %d", len(msg), n)
			}

			var (
				out bytes.Buffer
				one = make([]byte, 1)
			)
			for {
				if _, err := rb.Read(one); err == io.EOF {
					break
				}
				out.Write(one)
			}

			if got := out.String(); got != msg {
				t.Fatalf("expected to read back %q; got %q", msg, got)
			}
		})
	}

	t.Run("overflow drops oldest bytes", func(t *testing.T) {
		var rb ringBuffer
		_, _ = rb.Write([]byte(strings.Repeat("a", ringBufferSize)))
		_, _ = rb.Write([]byte("tail"))

		if exp, got := ringBufferSize-1, rb.Len(); got != exp {
			t.Fatalf("expected buffer to hold %d bytes; got %d", exp, got)
		}

		var out bytes.Buffer
		if _, err := io.Copy(&out, &rb); err != nil {
			t.Fatal(err)
		}

		if !strings.HasSuffix(out.String(), "aaatail") {
			t.Fatalf("expected the most recent bytes to survive; got suffix %q", out.String()[out.Len()-8:])
		}
	})
}
