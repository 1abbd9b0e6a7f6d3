//go:build riscv64

// Package cpu exposes the small slice of RISC-V CPU state this core reads
// or writes directly. Only the satp CSR is exercised by the core itself
// (spec §6); the rest of the CSR surface (stvec, sstatus, ...) is declared
// here for callers outside this core and is otherwise unused by it.
package cpu

var (
	// readSatpFn is mocked by tests and automatically inlined by the
	// compiler in the kernel build.
	readSatpFn = ReadSatp
)

// ReadSatp returns the raw value of the supervisor address translation and
// protection register. Implemented in cpu_riscv64.s.
func ReadSatp() uint64

// ReadSatpMocked is the indirection point used by package paging so tests
// can substitute a fake satp value without touching the CSR.
func ReadSatpMocked() uint64 {
	return readSatpFn()
}

// Halt stops instruction execution. Implemented in cpu_riscv64.s; used by
// kernel.Panic as the terminal action after reporting a diagnostic.
func Halt()
