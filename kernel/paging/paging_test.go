package paging

import (
	"testing"
	"unsafe"

	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

func alignUpT(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func backing(t *testing.T, pages int) {
	t.Helper()
	buf := make([]byte, (pages+1)*int(mem.PageSize))
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := alignUpT(raw, uintptr(mem.PageSize))
	hal.SetHHDMBase(0)
	t.Cleanup(func() { hal.SetHHDMBase(0) })
	hal.SetHHDMBase(aligned)

	pmm.Initialize(pmm.FirstFit)
	if err := pmm.AddRegion(0, mem.Size(pages)*mem.PageSize); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
}

func newRoot(t *testing.T) uintptr {
	t.Helper()
	pa, err := pmm.Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc root: %v", err)
	}
	return hal.PhysToVirt(pa)
}

func TestMapAndTranslateRoundTrip(t *testing.T) {
	backing(t, 64)
	root := newRoot(t)

	va := uintptr(0x40000000)
	dataPA, err := pmm.Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc data page: %v", err)
	}

	if err := MapSmallPage(root, va, dataPA, FlagRead|FlagWrite); err != nil {
		t.Fatalf("MapSmallPage: %v", err)
	}

	got := VirtToPhys(root, va+0x123)
	if got != dataPA+0x123 {
		t.Fatalf("expected translation 0x%x, got 0x%x", dataPA+0x123, got)
	}
}

func TestMapSmallPageRejectsUnalignedAddresses(t *testing.T) {
	backing(t, 16)
	root := newRoot(t)

	if err := MapSmallPage(root, 0x1001, 0x2000, FlagRead); err == nil {
		t.Fatal("expected PAGING_UNALIGNED_ADDR for an unaligned va")
	}
	if err := MapSmallPage(root, 0x1000, 0x2001, FlagRead); err == nil {
		t.Fatal("expected PAGING_UNALIGNED_ADDR for an unaligned pa")
	}
}

func TestMapSmallPageRejectsRemap(t *testing.T) {
	backing(t, 16)
	root := newRoot(t)

	va := uintptr(0x1000)
	pa, err := pmm.Alloc(mem.PageSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := MapSmallPage(root, va, pa, FlagRead); err != nil {
		t.Fatalf("MapSmallPage: %v", err)
	}
	if err := MapSmallPage(root, va, pa, FlagRead); err == nil {
		t.Fatal("expected PAGING_MAP_EXISTS on remap")
	}
}

func TestVirtToPhysUnmappedReturnsAllOnes(t *testing.T) {
	backing(t, 16)
	root := newRoot(t)

	got := VirtToPhys(root, 0x7f000000)
	if got != invalidPA {
		t.Fatalf("expected invalidPA for an unmapped address, got 0x%x", got)
	}
}
