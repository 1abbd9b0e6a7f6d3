package kmain

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

// buildMinimalBlob returns a DTB with just a root node and no
// properties, enough to exercise the parse step without depending on
// the fdt package's own fixture builder.
func buildMinimalBlob() []byte {
	var structs []byte
	putU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		structs = append(structs, b[:]...)
	}
	putU32(1) // FDT_BEGIN_NODE
	structs = append(structs, 0, 0, 0, 0)
	putU32(2) // FDT_END_NODE
	putU32(9) // FDT_END

	const headerSize = 40
	rsvmap := make([]byte, 16) // one terminating (0,0) pair

	offRsvmap := uint32(headerSize)
	offStructs := offRsvmap + uint32(len(rsvmap))
	offStrings := offStructs + uint32(len(structs))
	total := offStrings

	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], 0xD00DFEED)
	binary.BigEndian.PutUint32(blob[4:], total)
	binary.BigEndian.PutUint32(blob[8:], offStructs)
	binary.BigEndian.PutUint32(blob[12:], offStrings)
	binary.BigEndian.PutUint32(blob[16:], offRsvmap)
	binary.BigEndian.PutUint32(blob[20:], 17)
	binary.BigEndian.PutUint32(blob[24:], 16)
	binary.BigEndian.PutUint32(blob[28:], 0)
	binary.BigEndian.PutUint32(blob[32:], 0)
	binary.BigEndian.PutUint32(blob[36:], uint32(len(structs)))

	copy(blob[offRsvmap:], rsvmap)
	copy(blob[offStructs:], structs)
	return blob
}

func TestKmainRegistersUsableRegionsAndParsesDTB(t *testing.T) {
	origHalt := cpuHaltFn
	halted := false
	cpuHaltFn = func() { halted = true }
	defer func() { cpuHaltFn = origHalt }()

	pages := 16
	buf := make([]byte, (pages+1)*int(mem.PageSize))
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (raw + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	hal.SetHHDMBase(aligned)
	defer hal.SetHHDMBase(0)

	blob := buildMinimalBlob()
	blobVA := uintptr(unsafe.Pointer(&blob[0]))
	blobPA := hal.VirtToPhys(blobVA)

	platform := &hal.PlatformInfo{
		HHDMBase:       aligned,
		DeviceTreeBlob: blobPA,
		MemMap: []hal.MemMapEntry{
			{Base: 0, Length: uint64(pages) * uint64(mem.PageSize), Type: hal.MemUsable},
			{Base: uintptr(pages) * uintptr(mem.PageSize), Length: uint64(mem.PageSize), Type: hal.MemReserved},
		},
	}

	Kmain(platform)

	if !halted {
		t.Fatal("expected Kmain to reach cpuHaltFn")
	}
	if pmm.FreeMemory() == 0 {
		t.Fatal("expected the usable region to have been registered with the PMM")
	}
}

// Kmain routes platform-info validation failures through kernel.Panic,
// whose halt step is the kernel package's unexported cpuHaltFn
// (cpu.Halt by default, unmockable from here) — so the invalid-input path is
// exercised directly against hal.PlatformInfo.Validate instead of
// through Kmain itself.
func TestInvalidPlatformInfoFailsValidation(t *testing.T) {
	platform := &hal.PlatformInfo{DeviceTreeBlob: 1}
	if err := platform.Validate(); err == nil {
		t.Fatal("expected Validate to reject an empty memmap")
	}
}
