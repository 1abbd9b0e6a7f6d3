package fdt

import (
	"unsafe"

	"rv64kernel/kernel"
)

// magic is the fixed big-endian marker every DTB blob begins with.
const magic uint32 = 0xD00DFEED

// header mirrors the fixed-layout DTB header (devicetree specification
// §5.2). Every field is stored big-endian in the blob; readHeader
// byte-swaps each one explicitly rather than overlaying this struct
// directly onto the blob, since the target is little-endian (spec §9:
// never alias multi-byte fields across an endianness boundary via a
// pointer cast).
type header struct {
	totalSize         uint32
	offStructs        uint32
	offStrings        uint32
	offMemRsvMap      uint32
	version           uint32
	compatibleVersion uint32
	bootCPUIDPhys     uint32
	sizeStrings       uint32
	sizeStructs       uint32
}

func readBE32(blob uintptr, offset uint32) uint32 {
	p := (*[4]byte)(unsafe.Pointer(blob + uintptr(offset)))
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

func readBE64(blob uintptr, offset uint32) uint64 {
	hi := readBE32(blob, offset)
	lo := readBE32(blob, offset+4)
	return uint64(hi)<<32 | uint64(lo)
}

// readHeader validates the magic number and decodes the ten header
// words.
func readHeader(blob uintptr) (*header, *kernel.Error) {
	if readBE32(blob, 0) != magic {
		return nil, errf("fdt", "blob does not start with the FDT magic number", kernel.DtMagicNumber)
	}

	h := &header{
		totalSize:         readBE32(blob, 4),
		offStructs:        readBE32(blob, 8),
		offStrings:        readBE32(blob, 12),
		offMemRsvMap:      readBE32(blob, 16),
		version:           readBE32(blob, 20),
		compatibleVersion: readBE32(blob, 24),
		bootCPUIDPhys:     readBE32(blob, 28),
		sizeStrings:       readBE32(blob, 32),
		sizeStructs:       readBE32(blob, 36),
	}
	return h, nil
}

// stringAt reads a NUL-terminated string starting at the given offset
// within the strings block.
func stringAt(blob uintptr, stringsOff, nameOff uint32) string {
	base := blob + uintptr(stringsOff) + uintptr(nameOff)
	n := 0
	for *(*byte)(unsafe.Pointer(base + uintptr(n))) != 0 {
		n++
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
	return string(buf)
}

// cStringAt reads a NUL-terminated string starting at base, bounded by
// limit bytes, returning the string and the number of bytes consumed
// including the terminator.
func cStringAt(base uintptr, limit uint32) (string, uint32) {
	n := uint32(0)
	for n < limit && *(*byte)(unsafe.Pointer(base+uintptr(n))) != 0 {
		n++
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
	consumed := n + 1
	return string(buf), consumed
}
