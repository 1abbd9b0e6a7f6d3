// Package kmain sequences the boot hand-off (spec §2's control-flow
// line): platform-info validation, PMM initialization and region
// registration from the loader's memory map, then the device-tree
// parse. It is the only package that calls both hal and fdt, mirroring
// the teacher's root kmain.go/boot.go split between the rt0 trampoline
// and the actual kernel entrypoint.
package kmain

import (
	"rv64kernel/kernel"
	"rv64kernel/kernel/cpu"
	"rv64kernel/kernel/fdt"
	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/kfmt/early"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/bump"
	"rv64kernel/kernel/mem/pmm"
)

// cpuHaltFn is mocked by tests and automatically inlined by the compiler
// in the kernel build.
var cpuHaltFn = cpu.Halt

// Kmain is the core's entrypoint, invoked once the bootloader stage has
// assembled a PlatformInfo and installed the console sink (both out of
// scope for this core, spec §1). platform.Validate requires a non-zero
// DeviceTreeBlob, so the DTB parse below is unconditional. It never
// returns; a failure at any stage is fatal and reported via
// kernel.Panic.
//
//go:noinline
func Kmain(platform *hal.PlatformInfo) {
	early.Printf("starting kernel core\n")

	if err := platform.Validate(); err != nil {
		kernel.Panic(err.Push("kmain", "invalid platform info", kernel.LimineRequestError))
	}

	hal.SetHHDMBase(platform.HHDMBase)

	pmm.Initialize(pmm.BestFit)
	registered := registerUsableRegions(platform.MemMap)
	early.Printf("pmm: registered %d usable region(s), %d bytes free\n", registered, pmm.FreeMemory())

	tree := parseDeviceTree(platform.DeviceTreeBlob)
	early.Printf("fdt: parsed device tree, root has %d direct child(ren)\n", len(tree.Root.Children))

	cpuHaltFn()
}

// registerUsableRegions hands every MemUsable entry of memmap to the PMM,
// skipping reserved/ACPI/framebuffer/bootloader-owned ranges (spec §2:
// "region registration from usable memory-map entries"). A region the
// PMM rejects (too small, overlapping, or the fixed region table is
// full) is logged and skipped rather than treated as fatal, since the
// remaining usable regions may still be enough to boot.
func registerUsableRegions(memmap []hal.MemMapEntry) int {
	registered := 0
	for _, entry := range memmap {
		if entry.Type != hal.MemUsable {
			continue
		}
		if err := pmm.AddRegion(entry.Base, mem.Size(entry.Length)); err != nil {
			early.Printf("pmm: skipping region base=%x length=%d: %s\n", entry.Base, entry.Length, err.Message)
			continue
		}
		registered++
	}
	return registered
}

// parseDeviceTree parses the loader-provided DTB through a bump arena
// dedicated to the tree's bump-allocated payloads (compatible string
// views, reg/ranges arrays). The arena is deliberately never Dropped:
// the tree it backs is meant to outlive kmain for the remainder of
// boot.
func parseDeviceTree(blob uintptr) *fdt.Tree {
	var arena bump.Arena

	tree, err := fdt.Parse(hal.PhysToVirt(blob), &arena)
	if err != nil {
		kernel.Panic(err.Push("kmain", "failed to parse device tree", kernel.DtRewriteFailed))
	}
	return tree
}
