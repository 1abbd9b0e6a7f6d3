// Package paging implements the Sv39 three-level paging engine described
// in spec §4.4: an explicit-root walker, a single-page mapper, and a
// virtual-to-physical translator, all addressing page tables through the
// HHDM rather than a recursive self-mapping.
//
// The walk/translate algorithm (VPN-per-level shift, PPN field at bits
// [53:10], leaf detection via R/W/X) is grounded on
// other_examples/db055d78_tinyrange-cc__internal-hv-riscv-rv64-mmu.go.go's
// walkPageTable; the teacher's own kernel/mem/vmm is recursively mapped
// (x86, self-referencing last PDT entry) and that technique does not
// carry over to Sv39's explicit-root model, so only its accessor-method
// style (pte.go) and error-annotation idiom are kept.
package paging

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/cpu"
	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

const (
	pageShift   = 12
	vpnBits     = 9
	vpnMask     = uint64(1)<<vpnBits - 1
	numLevels   = 3
	satpPPNMask = uint64(1)<<44 - 1
)

// invalidPA is returned by VirtToPhys when the walk hits an invalid
// intermediate or leaf entry (spec §4.4: "returns ~0").
const invalidPA = ^uintptr(0)

func vpnIndex(va uintptr, level int) uintptr {
	return uintptr((uint64(va) >> (pageShift + uint(level)*vpnBits)) & vpnMask)
}

func entryAt(tableVA uintptr, idx uintptr) *pte {
	return (*pte)(unsafe.Pointer(tableVA + idx*8))
}

func tableVAFromPPN(ppn uint64) uintptr {
	return hal.PhysToVirt(uintptr(ppn << pageShift))
}

func errf(module, message string, c kernel.Code) *kernel.Error {
	return &kernel.Error{Module: module, Message: message, Stack: kernel.NewCodeStack(c)}
}

// MapSmallPage installs a single 4 KiB mapping va -> pa in the table
// rooted at root (an HHDM-mapped writable pointer, as returned by
// CurrentPageTable), allocating and zeroing intermediate tables from the
// PMM as needed. va and pa must both be page-aligned. flags are ORed
// with V and installed verbatim on the leaf; the caller is responsible
// for choosing a sane flag combination (spec §4.4).
//
// Mapping is not atomic across levels: if an intermediate allocation
// fails partway through, tables already installed for earlier levels
// are left in place.
func MapSmallPage(root uintptr, va, pa uintptr, flags Flag) *kernel.Error {
	if va%uintptr(mem.PageSize) != 0 || pa%uintptr(mem.PageSize) != 0 {
		return errf("paging", "va/pa must be page-aligned", kernel.PagingUnalignedAddr)
	}

	tableVA := root

	for level := numLevels - 1; level >= 1; level-- {
		idx := vpnIndex(va, level)
		entry := entryAt(tableVA, idx)

		switch {
		case !entry.HasFlags(FlagValid):
			childPA, err := pmm.Alloc(mem.PageSize)
			if err != nil {
				return err.Push("paging", "failed to allocate intermediate page table", kernel.PagingAllocFailed)
			}
			entry.SetPPN(uint64(childPA) >> pageShift)
			entry.SetFlags(FlagValid)

		case entry.isLeaf():
			return errf("paging", "intermediate entry is unexpectedly a leaf", kernel.PagingMapExists)
		}

		tableVA = tableVAFromPPN(entry.PPN())
	}

	leafIdx := vpnIndex(va, 0)
	leaf := entryAt(tableVA, leafIdx)
	if leaf.HasFlags(FlagValid) {
		return errf("paging", "a mapping already exists at this address", kernel.PagingMapExists)
	}

	leaf.SetPPN(uint64(pa) >> pageShift)
	leaf.SetFlags(flags | FlagValid)
	return nil
}

// VirtToPhys walks the table rooted at root (an HHDM-mapped writable
// pointer) and translates va, returning invalidPA (all bits set) if any
// intermediate or the final entry is invalid. A leaf encountered before
// level 0 (a superpage) is honored: the result is the leaf's
// granule-aligned address OR'd with the low bits of va for that granule.
func VirtToPhys(root uintptr, va uintptr) uintptr {
	tableVA := root

	for level := numLevels - 1; level >= 0; level-- {
		idx := vpnIndex(va, level)
		entry := entryAt(tableVA, idx)

		if !entry.HasFlags(FlagValid) {
			return invalidPA
		}

		if entry.isLeaf() {
			granuleShift := uint(pageShift + level*vpnBits)
			mask := uintptr(1)<<granuleShift - 1
			base := uintptr(entry.PPN()<<pageShift) &^ mask
			return base | (va & mask)
		}

		tableVA = tableVAFromPPN(entry.PPN())
	}

	return invalidPA
}

// CurrentPageTable reads satp, masks out the PPN field, and converts it
// through the HHDM to a writable pointer usable as the root argument to
// MapSmallPage/VirtToPhys.
func CurrentPageTable() uintptr {
	satp := cpu.ReadSatpMocked()
	ppn := satp & satpPPNMask
	return hal.PhysToVirt(uintptr(ppn << pageShift))
}
