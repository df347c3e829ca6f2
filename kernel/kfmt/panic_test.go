package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"hobbyos/kernel"
	"hobbyos/kernel/cpu"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		outputSink = nil
	}()

	var halted bool
	cpuHaltFn = func() {
		halted = true
	}

	const banner = "\n===================================\n"

	specs := []struct {
		descr string
		arg   interface{}
		exp   string
	}{
		{
			"kernel error",
			&kernel.Error{Module: "pmm", Message: "out of memory"},
			banner + "[pmm] unrecoverable error: out of memory\n*** kernel panic: system halted ***" + banner,
		},
		{
			"go error",
			errors.New("go error"),
			banner + "[rt] unrecoverable error: go error\n*** kernel panic: system halted ***" + banner,
		},
		{
			"string",
			"string error",
			banner + "[rt] unrecoverable error: string error\n*** kernel panic: system halted ***" + banner,
		},
		{
			"nil",
			nil,
			banner + "*** kernel panic: system halted ***" + banner,
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			buf.Reset()
			halted = false

			Panic(spec.arg)

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if !halted {
				t.Fatal("expected Panic to halt the CPU")
			}
		})
	}
}
