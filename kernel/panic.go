package kernel

import (
	"rv64kernel/kernel/cpu"
	"rv64kernel/kernel/kfmt/early"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the
	// compiler in the kernel build.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts
// the CPU. Calls to Panic never return. There is no unwinding: every
// resource lifetime in this core is static or arena-based, so halting in
// place is safe.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		for _, c := range err.Stack.Codes() {
			early.Printf("  -> %s\n", c.String())
		}
	}
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// Assert panics with the given message if cond is false. It is the
// assert-style invariant check described in spec §7.
func Assert(cond bool, module, message string) {
	if !cond {
		Panic(&Error{Module: module, Message: message})
	}
}
