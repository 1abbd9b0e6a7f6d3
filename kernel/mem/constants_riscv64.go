//go:build riscv64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// converting a physical address to a page number (shift right by
	// PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes. Sv39 uses 4 KiB
	// pages at the leaf level; 2 MiB/1 GiB superpages are addressed via
	// the same PageShift but a coarser level in the walk.
	PageSize = Size(1 << PageShift)
)
