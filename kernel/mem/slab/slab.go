// Package slab implements the bootstrap typed slab allocator described in
// spec §4.1: a compile-time-sized pool of T-sized cells carved out of
// caller-supplied byte buffers, with no support for returning a buffer to
// its source. It exists to bootstrap allocation of fixed-size kernel
// objects (the PMM's own free-block nodes, see kernel/mem/pmm) before any
// general-purpose allocator is available.
//
// The header-prefixed-region-plus-singly-linked-free-list shape mirrors
// other_examples/d176b14f_cznic-memory__memory.go.go's page{brk,log,size,
// used} header overlaying a []byte, with free cells threaded through the
// allocated storage itself rather than tracked out of band.
package slab

import (
	"unsafe"

	"rv64kernel/kernel"
)

const ptrAlign = unsafe.Alignof(uintptr(0))

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// freeCell overlays unallocated storage inside a region. Once a cell is
// handed out via Alloc, its bytes are reinterpreted as a T and this
// structure no longer applies to it.
type freeCell struct {
	next *freeCell
}

// region is the header prefixed to every caller-supplied buffer.
type region struct {
	total    int
	free     int
	freeList *freeCell
	next     *region
}

// Slab is a typed, fixed-cell-size, no-free-to-OS allocator for values of
// type T. The zero value is not ready for use; call New.
type Slab[T any] struct {
	head     *region
	cellSize uintptr
	zero     bool
}

// New creates a Slab backed by buf. If zeroOnAlloc is true, cells are
// zero-filled before being handed out by Alloc (the compile-time zeroing
// policy mentioned in spec §4.1).
func New[T any](buf []byte, zeroOnAlloc bool) (*Slab[T], *kernel.Error) {
	var zeroVal T
	cellSize := alignUp(unsafe.Sizeof(zeroVal), ptrAlign)
	if cellSize < unsafe.Sizeof(freeCell{}) {
		cellSize = alignUp(unsafe.Sizeof(freeCell{}), ptrAlign)
	}

	s := &Slab[T]{cellSize: cellSize, zero: zeroOnAlloc}
	if err := s.Grow(buf); err != nil {
		return nil, err
	}
	return s, nil
}

// Grow adds buf as an additional backing region, chaining it to the front
// of the region list.
func (s *Slab[T]) Grow(buf []byte) *kernel.Error {
	if buf == nil {
		return &kernel.Error{Module: "slab", Message: "nil buffer", Stack: kernel.NewCodeStack(kernel.NullArgument)}
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	if base%ptrAlign != 0 {
		return &kernel.Error{Module: "slab", Message: "buffer is not pointer-aligned", Stack: kernel.NewCodeStack(kernel.SlabBufferMisaligned)}
	}

	headerSize := alignUp(unsafe.Sizeof(region{}), ptrAlign)
	if uintptr(len(buf)) < headerSize+s.cellSize {
		return &kernel.Error{Module: "slab", Message: "buffer too small for header and one cell", Stack: kernel.NewCodeStack(kernel.SlabBufferTooSmall)}
	}

	cellCount := (uintptr(len(buf)) - headerSize) / s.cellSize

	r := (*region)(unsafe.Pointer(&buf[0]))
	r.total = int(cellCount)
	r.free = int(cellCount)
	r.freeList = nil

	cellsBase := base + headerSize
	var prev *freeCell
	for i := uintptr(0); i < cellCount; i++ {
		cell := (*freeCell)(unsafe.Pointer(cellsBase + i*s.cellSize))
		cell.next = nil
		if prev == nil {
			r.freeList = cell
		} else {
			prev.next = cell
		}
		prev = cell
	}

	r.next = s.head
	s.head = r
	return nil
}

// Alloc pops the first free cell from the first region whose free list is
// non-empty. It returns (nil, false) once every region is exhausted;
// growing the slab with another buffer is the caller's responsibility.
func (s *Slab[T]) Alloc() (*T, bool) {
	for r := s.head; r != nil; r = r.next {
		if r.freeList == nil {
			continue
		}

		cell := r.freeList
		r.freeList = cell.next
		r.free--

		ptr := unsafe.Pointer(cell)
		if s.zero {
			*(*T)(ptr) = *new(T)
		}
		return (*T)(ptr), true
	}
	return nil, false
}

// Free returns a previously allocated cell to its owning region. It
// reports SlabFreeUnsupported if p does not fall within any region this
// Slab owns (e.g. a pointer obtained from a different allocator).
func (s *Slab[T]) Free(p *T) *kernel.Error {
	if p == nil {
		return &kernel.Error{Module: "slab", Message: "nil pointer", Stack: kernel.NewCodeStack(kernel.NullArgument)}
	}

	addr := uintptr(unsafe.Pointer(p))
	headerSize := alignUp(unsafe.Sizeof(region{}), ptrAlign)

	for r := s.head; r != nil; r = r.next {
		regionBase := uintptr(unsafe.Pointer(r))
		cellsBase := regionBase + headerSize
		cellsEnd := cellsBase + uintptr(r.total)*s.cellSize
		if addr < cellsBase || addr >= cellsEnd {
			continue
		}

		cell := (*freeCell)(unsafe.Pointer(addr))
		cell.next = r.freeList
		r.freeList = cell
		r.free++
		return nil
	}

	return &kernel.Error{Module: "slab", Message: "pointer not owned by this slab", Stack: kernel.NewCodeStack(kernel.SlabFreeUnsupported)}
}

// FreeCount returns the total number of unallocated cells across every
// region chained into this Slab.
func (s *Slab[T]) FreeCount() int {
	total := 0
	for r := s.head; r != nil; r = r.next {
		total += r.free
	}
	return total
}
