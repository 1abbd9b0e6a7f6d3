// Package pmm implements the physical memory manager described in spec
// §4.3: a region list plus, per region, a singly linked list of free
// blocks. Block-node storage is itself sourced from a bootstrap slab
// (kernel/mem/slab), refilled from the manager's own pages once at least
// one region has been registered.
//
// The region/free-list shape and the AddRegion clamping rules are
// grounded on the teacher's kernel/mem/pmm/allocator/bootmem.go; the
// block-splitting arithmetic (gap-before/gap-after/exact-fit cases) is
// grounded on other_examples/d176b14f_cznic-memory__memory.go.go's
// Allocator.Alloc, adapted from byte-offset bookkeeping to the physical
// base/length pairs this core uses.
package pmm

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/slab"
)

// maxRegions bounds the statically sized region table (spec §9: R ≥ 16).
const maxRegions = 32

// lowWater is the block-node slab refill threshold. It is kept one cell
// above the documented minimum (spec §4.3: "≥ the maximum number of
// blocks a single allocation can produce, i.e. 2") so that a refill which
// starts mid-allocation always leaves enough cells for the allocation
// that triggered it to complete.
const lowWater = 3

// bootstrapSlabBytes sizes the statically allocated buffer that seeds the
// block-node slab before any region (and therefore any PMM-backed page)
// exists to refill it from.
const bootstrapSlabBytes = 512

// block is a free extent of physical memory belonging to one region.
// Allocated extents are not represented by a block at all; only the gaps
// between allocations are tracked.
type block struct {
	base   uintptr
	length mem.Size
	next   *block
}

// region is one caller-registered, page-aligned span of physical memory.
type region struct {
	base      uintptr
	length    mem.Size
	freeBytes mem.Size
	freeList  *block
}

var (
	policy       Policy
	regions      [maxRegions]region
	regionCount  int
	totalMemory  mem.Size
	freeMemory   mem.Size
	blockSlab    *slab.Slab[block]
	bootstrapBuf [bootstrapSlabBytes]byte
	refilling    bool

	nextFitRegion int
	nextFitBlock  *block
)

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func alignDown(n, align uintptr) uintptr {
	return n &^ (align - 1)
}

func isPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

func errf(module, message string, c kernel.Code) *kernel.Error {
	return &kernel.Error{Module: module, Message: message, Stack: kernel.NewCodeStack(c)}
}

// Initialize resets the manager's state and selects the block-selection
// policy used by every subsequent AllocAligned/Alloc call. It must be
// called exactly once, before the first AddRegion.
func Initialize(p Policy) {
	policy = p
	regionCount = 0
	totalMemory = 0
	freeMemory = 0
	nextFitRegion = 0
	nextFitBlock = nil
	refilling = false

	s, err := slab.New[block](bootstrapBuf[:], false)
	if err != nil {
		kernel.Panic(err)
	}
	blockSlab = s
}

// AddRegion registers a span of physical memory as available for
// allocation. base and size are clamped inward to page boundaries; a
// region that clamps down to nothing, overlaps an already-managed
// region, or would overflow the region table fails without mutating any
// state (spec §4.3, §8).
func AddRegion(base uintptr, size mem.Size) *kernel.Error {
	if size == 0 {
		return errf("pmm", "zero-length region", kernel.PmmRegionTooSmall)
	}

	pageSize := uintptr(mem.PageSize)
	end := base + uintptr(size)
	if end < base {
		return errf("pmm", "region extent overflows uintptr", kernel.PmmRegionTooSmall)
	}

	clampedBase := alignUp(base, pageSize)
	clampedEnd := alignDown(end, pageSize)
	if clampedEnd <= clampedBase || clampedEnd-clampedBase < pageSize {
		return errf("pmm", "region too small once clamped to page boundaries", kernel.PmmRegionTooSmall)
	}

	if regionCount >= maxRegions {
		return errf("pmm", "region table is full", kernel.PmmRegionListFull)
	}

	for i := 0; i < regionCount; i++ {
		existingEnd := regions[i].base + uintptr(regions[i].length)
		if clampedBase < existingEnd && regions[i].base < clampedEnd {
			return errf("pmm", "region overlaps an already-managed region", kernel.PmmRegionManaged)
		}
	}

	length := mem.Size(clampedEnd - clampedBase)

	ensureBlockSlabCapacity()
	blk, ok := blockSlab.Alloc()
	if !ok {
		return errf("pmm", "out of block-node storage", kernel.PmmOutOfMem)
	}
	blk.base = clampedBase
	blk.length = length
	blk.next = nil

	r := &regions[regionCount]
	r.base = clampedBase
	r.length = length
	r.freeBytes = length
	r.freeList = blk
	regionCount++

	totalMemory += length
	freeMemory += length
	return nil
}

// ensureBlockSlabCapacity refills the block-node slab from a freshly
// allocated page once the free-cell count drops below lowWater. The
// refilling guard makes this reentrancy-safe: the AllocAligned call made
// internally to source the refill page re-enters this function and finds
// refilling already true, so it skips straight to the block search
// instead of recursing.
func ensureBlockSlabCapacity() *kernel.Error {
	if blockSlab.FreeCount() >= lowWater {
		return nil
	}
	if refilling {
		return nil
	}
	if regionCount == 0 {
		return nil
	}

	refilling = true
	defer func() { refilling = false }()

	pa, err := AllocAligned(mem.PageSize, uintptr(mem.PageSize))
	if err != nil {
		return err
	}

	va := hal.PhysToVirt(pa)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(va)), int(mem.PageSize))
	return blockSlab.Grow(buf)
}

// candidate names a free block chosen to satisfy an allocation, together
// with the information needed to unlink it from its region's free list.
type candidate struct {
	regionIdx    int
	prev         *block
	blk          *block
	alignedStart uintptr
}

func blockSatisfies(b *block, align uintptr, size mem.Size) (uintptr, bool) {
	a := alignUp(b.base, align)
	if a < b.base {
		return 0, false
	}
	need := uintptr(size)
	avail := b.base + uintptr(b.length)
	if avail < a {
		return 0, false
	}
	return a, avail-a >= need
}

func findFirstFit(size mem.Size, align uintptr) (candidate, bool) {
	for ri := 0; ri < regionCount; ri++ {
		var prev *block
		for b := regions[ri].freeList; b != nil; b = b.next {
			if a, ok := blockSatisfies(b, align, size); ok {
				return candidate{ri, prev, b, a}, true
			}
			prev = b
		}
	}
	return candidate{}, false
}

func findExtremeFit(size mem.Size, align uintptr, best bool) (candidate, bool) {
	var chosen candidate
	found := false
	for ri := 0; ri < regionCount; ri++ {
		var prev *block
		for b := regions[ri].freeList; b != nil; b = b.next {
			a, ok := blockSatisfies(b, align, size)
			if !ok {
				prev = b
				continue
			}
			switch {
			case !found:
				chosen = candidate{ri, prev, b, a}
				found = true
			case best && (b.length < chosen.blk.length || (b.length == chosen.blk.length && b.base < chosen.blk.base)):
				chosen = candidate{ri, prev, b, a}
			case !best && (b.length > chosen.blk.length || (b.length == chosen.blk.length && b.base < chosen.blk.base)):
				chosen = candidate{ri, prev, b, a}
			}
			prev = b
		}
	}
	return chosen, found
}

// nextFitCursorValid reports whether nextFitBlock is still present in
// nextFitRegion's free list.
func nextFitCursorValid() bool {
	if nextFitBlock == nil || nextFitRegion >= regionCount {
		return false
	}
	for b := regions[nextFitRegion].freeList; b != nil; b = b.next {
		if b == nextFitBlock {
			return true
		}
	}
	return false
}

// scanRegionFrom scans region ri's free list starting at (and including)
// from, to its end.
func scanRegionFrom(ri int, from *block, align uintptr, size mem.Size) (candidate, bool) {
	var prev *block
	b := regions[ri].freeList
	for b != nil && b != from {
		prev = b
		b = b.next
	}
	for b != nil {
		if a, ok := blockSatisfies(b, align, size); ok {
			return candidate{ri, prev, b, a}, true
		}
		prev = b
		b = b.next
	}
	return candidate{}, false
}

// scanRegionUntil scans region ri's free list from its head up to (but
// not including) until.
func scanRegionUntil(ri int, until *block, align uintptr, size mem.Size) (candidate, bool) {
	var prev *block
	for b := regions[ri].freeList; b != nil && b != until; b = b.next {
		if a, ok := blockSatisfies(b, align, size); ok {
			return candidate{ri, prev, b, a}, true
		}
		prev = b
	}
	return candidate{}, false
}

// findNextFit resumes scanning from the stored cursor (re-anchoring to
// the first region's first block if the cursor has gone stale) and wraps
// around the region list at most once before giving up (spec §4.3, §9).
func findNextFit(size mem.Size, align uintptr) (candidate, bool) {
	if regionCount == 0 {
		return candidate{}, false
	}

	startRegion := nextFitRegion
	var startBlock *block
	if startRegion < regionCount && nextFitCursorValid() {
		startBlock = nextFitBlock
	} else {
		startRegion = 0
		startBlock = regions[0].freeList
	}

	if c, ok := scanRegionFrom(startRegion, startBlock, align, size); ok {
		return c, true
	}

	for step := 1; step < regionCount; step++ {
		ri := (startRegion + step) % regionCount
		var prev *block
		for b := regions[ri].freeList; b != nil; b = b.next {
			if a, ok := blockSatisfies(b, align, size); ok {
				return candidate{ri, prev, b, a}, true
			}
			prev = b
		}
	}

	return scanRegionUntil(startRegion, startBlock, align, size)
}

// commit carves [c.alignedStart, c.alignedStart+size) out of c.blk,
// shrinking, advancing, splitting, or fully retiring the block as
// required, and updates the free-byte accounting.
func commit(c candidate, size mem.Size) (uintptr, *kernel.Error) {
	r := &regions[c.regionIdx]
	blk := c.blk
	blockEnd := blk.base + uintptr(blk.length)

	gapBefore := mem.Size(c.alignedStart - blk.base)
	gapAfter := mem.Size(blockEnd - (c.alignedStart + uintptr(size)))

	var cursorBlock *block = blk

	switch {
	case gapBefore == 0 && gapAfter == 0:
		if c.prev == nil {
			r.freeList = blk.next
		} else {
			c.prev.next = blk.next
		}
		cursorBlock = blk.next
		if err := blockSlab.Free(blk); err != nil {
			return 0, err
		}

	case gapBefore > 0 && gapAfter == 0:
		blk.length = gapBefore

	case gapBefore == 0 && gapAfter > 0:
		blk.base = c.alignedStart + uintptr(size)
		blk.length = gapAfter

	default:
		blk.length = gapBefore
		tail, ok := blockSlab.Alloc()
		if !ok {
			return 0, errf("pmm", "out of block-node storage while splitting", kernel.PmmOutOfMem)
		}
		tail.base = c.alignedStart + uintptr(size)
		tail.length = gapAfter
		tail.next = blk.next
		blk.next = tail
		cursorBlock = tail
	}

	r.freeBytes -= size
	freeMemory -= size

	nextFitRegion = c.regionIdx
	nextFitBlock = cursorBlock

	return c.alignedStart, nil
}

// AllocAligned reserves size bytes (rounded up to a whole number of
// pages) at an address satisfying align, which must be a power of two no
// smaller than the page size. The returned range is zero-filled before
// being handed back (spec §4.3, §8: freshly allocated memory is always
// zeroed).
func AllocAligned(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	if !isPowerOfTwo(align) || align < uintptr(mem.PageSize) {
		return 0, errf("pmm", "alignment must be a power of two >= page size", kernel.PmmBadAlign)
	}
	if size == 0 {
		return 0, errf("pmm", "zero-size allocation", kernel.PmmBadAlign)
	}

	pageSize := uintptr(mem.PageSize)
	rounded := alignUp(uintptr(size), pageSize)
	if rounded < uintptr(size) {
		return 0, errf("pmm", "requested size overflows uintptr once page-rounded", kernel.PmmBadAlign)
	}
	size = mem.Size(rounded)

	if size > freeMemory {
		return 0, errf("pmm", "not enough free memory to satisfy request", kernel.PmmOutOfMem)
	}

	if err := ensureBlockSlabCapacity(); err != nil {
		return 0, err
	}

	var (
		c     candidate
		found bool
	)
	switch policy {
	case FirstFit:
		c, found = findFirstFit(size, align)
	case BestFit:
		c, found = findExtremeFit(size, align, true)
	case WorstFit:
		c, found = findExtremeFit(size, align, false)
	case NextFit:
		c, found = findNextFit(size, align)
	default:
		c, found = findFirstFit(size, align)
	}
	if !found {
		return 0, errf("pmm", "no free block satisfies the request", kernel.PmmOutOfMem)
	}

	pa, err := commit(c, size)
	if err != nil {
		return 0, err
	}

	kernel.Memset(hal.PhysToVirt(pa), 0, uintptr(size))
	return pa, nil
}

// Alloc reserves size bytes (rounded up to a whole number of pages) at
// page-aligned granularity; it is AllocAligned with align fixed to the
// page size.
func Alloc(size mem.Size) (uintptr, *kernel.Error) {
	return AllocAligned(size, uintptr(mem.PageSize))
}

// Free returns the single page at pa to its owning region, coalescing
// with an immediately adjacent predecessor and/or successor free block.
// It fails with REGION_NOT_MANAGED if pa does not fall within any
// registered region (spec §4.3, §8).
func Free(pa uintptr) *kernel.Error {
	pageSize := uintptr(mem.PageSize)

	ri := -1
	for i := 0; i < regionCount; i++ {
		if pa >= regions[i].base && pa+pageSize <= regions[i].base+uintptr(regions[i].length) {
			ri = i
			break
		}
	}
	if ri < 0 {
		return errf("pmm", "address is not managed by any region", kernel.PmmRegionNotManaged)
	}

	if err := ensureBlockSlabCapacity(); err != nil {
		return err
	}

	newBlk, ok := blockSlab.Alloc()
	if !ok {
		return errf("pmm", "out of block-node storage while freeing", kernel.PmmOutOfMem)
	}
	newBlk.base = pa
	newBlk.length = mem.Size(pageSize)

	r := &regions[ri]
	var prev *block
	cur := r.freeList
	for cur != nil && cur.base < pa {
		prev = cur
		cur = cur.next
	}
	newBlk.next = cur
	if prev == nil {
		r.freeList = newBlk
	} else {
		prev.next = newBlk
	}

	if newBlk.next != nil && newBlk.base+uintptr(newBlk.length) == newBlk.next.base {
		succ := newBlk.next
		newBlk.length += succ.length
		newBlk.next = succ.next
		if err := blockSlab.Free(succ); err != nil {
			return err
		}
	}
	if prev != nil && prev.base+uintptr(prev.length) == newBlk.base {
		prev.length += newBlk.length
		prev.next = newBlk.next
		if err := blockSlab.Free(newBlk); err != nil {
			return err
		}
	}

	r.freeBytes += mem.Size(pageSize)
	freeMemory += mem.Size(pageSize)

	nextFitRegion = ri
	nextFitBlock = nil
	return nil
}

// TotalMemory returns the sum, across every registered region, of the
// page-aligned length that AddRegion accepted.
func TotalMemory() mem.Size {
	return totalMemory
}

// FreeMemory returns the sum of bytes currently unallocated across every
// registered region.
func FreeMemory() mem.Size {
	return freeMemory
}
