// Package bump implements the page-backed bump allocator described in
// spec §4.2: a singly linked list of page-aligned regions, each sourced
// from the PMM and accessed through the HHDM, with a cursor that only
// ever advances. There is no per-allocation free; Drop returns every
// chained region to the PMM at once.
//
// The region-chain-plus-cursor shape is grounded on
// other_examples/9d008d2d_joshuapare-hivekit__hive-alloc-bump.go.go's
// bump arena; the "grow when the current region can't fit" sizing rule
// (align_up(needed, PAGE_SIZE) + PAGE_SIZE) is grounded on
// other_examples/4e87824f_xyproto-vibe67__arena.go.go's arena growth
// policy, adapted to source fresh regions from the PMM rather than the
// Go heap.
package bump

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

// region is one page-aligned span of physical memory, mapped through the
// HHDM, that the bump cursor walks forward across.
type region struct {
	base   uintptr // physical base, needed to return the region to the PMM on Drop
	end    uintptr // virtual end address (base's HHDM alias + length)
	cursor uintptr // virtual bump cursor, PhysToVirt(base) <= cursor <= end
	next   *region
}

// Arena is a page-backed bump allocator. The zero value has no backing
// region and must be grown (directly, or implicitly via Alloc) before
// use.
type Arena struct {
	head *region
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func errf(module, message string, c kernel.Code) *kernel.Error {
	return &kernel.Error{Module: module, Message: message, Stack: kernel.NewCodeStack(c)}
}

// grow chains exactly one fresh page onto the arena.
func (a *Arena) grow() *kernel.Error {
	return a.growByNPages(1)
}

// growByNPages chains a fresh region of n contiguous pages onto the
// front of the arena's region list, sourced from the PMM.
func (a *Arena) growByNPages(n uintptr) *kernel.Error {
	if n == 0 {
		return errf("bump", "cannot grow by zero pages", kernel.NullArgument)
	}

	size := mem.Size(n) * mem.PageSize
	pa, err := pmm.Alloc(size)
	if err != nil {
		return err.Push("bump", "failed to source a region from the PMM", kernel.PmmOutOfMem)
	}

	va := hal.PhysToVirt(pa)
	r := &region{
		base:   pa,
		cursor: va,
		end:    va + uintptr(size),
		next:   a.head,
	}
	a.head = r
	return nil
}

// Grow chains exactly one fresh page onto the arena.
func (a *Arena) Grow() *kernel.Error {
	return a.grow()
}

// GrowByNPages chains a fresh region of n contiguous pages onto the
// arena.
func (a *Arena) GrowByNPages(n uintptr) *kernel.Error {
	return a.growByNPages(n)
}

// AllocAligned bumps the arena's cursor forward to align_up(cursor,
// align) and reserves size bytes there, growing the arena with a fresh
// region first if the current head region cannot fit the request. It
// returns the zero uintptr for a zero-size or zero-align request (spec
// §4.2).
func (a *Arena) AllocAligned(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	if size == 0 || align == 0 {
		return 0, nil
	}

	if a.head != nil {
		start := alignUp(a.head.cursor, align)
		if start+uintptr(size) <= a.head.end {
			a.head.cursor = start + uintptr(size)
			return start, nil
		}
	}

	regionSize := alignUp(uintptr(size), uintptr(mem.PageSize)) + uintptr(mem.PageSize)
	pages := regionSize / uintptr(mem.PageSize)

	if err := a.growByNPages(pages); err != nil {
		return 0, err
	}

	start := alignUp(a.head.cursor, align)
	if start+uintptr(size) > a.head.end {
		return 0, errf("bump", "freshly grown region still cannot satisfy request", kernel.PmmOutOfMem)
	}
	a.head.cursor = start + uintptr(size)
	return start, nil
}

// Alloc reserves size bytes at pointer alignment.
func (a *Arena) Alloc(size mem.Size) (uintptr, *kernel.Error) {
	return a.AllocAligned(size, unsafe.Alignof(uintptr(0)))
}

// Drop returns every region chained into the arena back to the PMM, one
// page at a time, and clears the arena so it can be reused. Unlike the
// PMM's own Free, a bump arena has no per-allocation granularity to
// preserve, so every page making up every region is released.
func (a *Arena) Drop() *kernel.Error {
	for r := a.head; r != nil; {
		next := r.next
		pageCount := (r.end - hal.PhysToVirt(r.base)) / uintptr(mem.PageSize)
		for i := uintptr(0); i < pageCount; i++ {
			if err := pmm.Free(r.base + i*uintptr(mem.PageSize)); err != nil {
				return err.Push("bump", "failed to return a region page to the PMM", kernel.PmmRegionNotManaged)
			}
		}
		r = next
	}
	a.head = nil
	return nil
}
