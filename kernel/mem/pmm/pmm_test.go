package pmm

import (
	"testing"
	"unsafe"

	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
)

// backing gives AddRegion a real Go-heap-owned buffer to manage so that
// hal.PhysToVirt(pa) resolves to addressable memory: HHDM base is set to
// the difference between the buffer's first byte and physical address 0.
func backing(t *testing.T, pages int) (base uintptr, size mem.Size) {
	t.Helper()
	buf := make([]byte, (pages+1)*int(mem.PageSize))
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := alignUp(raw, uintptr(mem.PageSize))
	hal.SetHHDMBase(0)
	t.Cleanup(func() { hal.SetHHDMBase(0) })
	hal.SetHHDMBase(aligned)
	return 0, mem.Size(pages) * mem.PageSize
}

func TestPmmAllocFreeRoundTrip(t *testing.T) {
	base, size := backing(t, 4)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	pa, err := Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if FreeMemory() != TotalMemory()-mem.PageSize {
		t.Fatalf("expected free memory to drop by one page")
	}

	if err := Free(pa); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if FreeMemory() != TotalMemory() {
		t.Fatalf("expected free memory restored after Free")
	}

	pa2, err := Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if pa2 != pa {
		t.Fatalf("expected re-allocation to reuse the freed page, got 0x%x want 0x%x", pa2, pa)
	}
}

func TestPmmOutOfMemory(t *testing.T) {
	base, size := backing(t, 2)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	if _, err := Alloc(size + mem.PageSize); err == nil {
		t.Fatal("expected OUT_OF_MEM for a request larger than total memory")
	}
}

func TestPmmAddRegionRejectsOverlap(t *testing.T) {
	base, size := backing(t, 4)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if err := AddRegion(base, size); err == nil {
		t.Fatal("expected REGION_MANAGED for a region overlapping an existing one")
	}
}

func TestPmmBestFitPicksSmallestSatisfyingBlock(t *testing.T) {
	base, size := backing(t, 8)
	Initialize(BestFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	// Carve the single free extent into a small hole and a large one by
	// allocating and freeing in a pattern: alloc 3 pages, alloc 1 page,
	// free only the first (3-page) allocation, leaving a 3-page hole
	// ahead of a larger (4-page) tail of free space.
	a, err := Alloc(3 * mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := Alloc(mem.PageSize); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := uintptr(0); i < 3; i++ {
		if err := Free(a + i*uintptr(mem.PageSize)); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}

	// Now request exactly one page: BEST_FIT must not return a
	// leftover block larger than necessary. With a 3-page hole and a
	// 4-page tail both available, the smaller (3-page) hole wins.
	pa, err := Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pa != a {
		t.Fatalf("expected BEST_FIT to reuse the smaller 3-page hole at 0x%x, got 0x%x", a, pa)
	}
}

func TestPmmFreeCoalescesNeighbors(t *testing.T) {
	base, size := backing(t, 4)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	full, err := Alloc(size)
	if err != nil {
		t.Fatalf("Alloc whole region: %v", err)
	}

	for i := uintptr(0); i < uintptr(size)/uintptr(mem.PageSize); i++ {
		if err := Free(full + i*uintptr(mem.PageSize)); err != nil {
			t.Fatalf("Free page %d: %v", i, err)
		}
	}

	// If every page coalesced back into one block, the whole region is
	// allocatable again in a single request.
	if _, err := Alloc(size); err != nil {
		t.Fatalf("expected coalesced free space to satisfy a whole-region alloc: %v", err)
	}
}

func TestPmmFreeRejectsUnmanagedAddress(t *testing.T) {
	base, size := backing(t, 2)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	if err := Free(base + uintptr(size)*4); err == nil {
		t.Fatal("expected REGION_NOT_MANAGED for an address outside every region")
	}
}

func TestPmmRejectsBadAlignment(t *testing.T) {
	base, size := backing(t, 2)
	Initialize(FirstFit)
	if err := AddRegion(base, size); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	if _, err := AllocAligned(mem.PageSize, 3); err == nil {
		t.Fatal("expected BAD_ALIGN for a non-power-of-two alignment")
	}
	if _, err := AllocAligned(mem.PageSize, uintptr(mem.PageSize)/2); err == nil {
		t.Fatal("expected BAD_ALIGN for an alignment smaller than the page size")
	}
}
