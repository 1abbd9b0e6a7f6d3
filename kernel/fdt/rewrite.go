package fdt

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/kfmt/early"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/bump"
)

const (
	maxAddressCells = 3
	maxSizeCells    = 2
)

// rewriteTree performs the depth-first typed rewrite pass (spec §4.5,
// pass 2): Loop A classifies every property on a node by name, then
// Loop B — run only once address_cells/size_cells are finalized for
// that node — decodes the cell-width-dependent reg/ranges properties.
// Bump-allocated storage backs every array a rewritten property
// produces (compatible's string-view array, reg's address/size arrays,
// ranges' three arrays).
func rewriteTree(root *Node, arena *bump.Arena) *kernel.Error {
	root.AddressCells = 2
	root.SizeCells = 1
	root.Name = "/"
	return rewriteNode(root, arena)
}

func rewriteNode(n *Node, arena *bump.Arena) *kernel.Error {
	// A node inherits its parent's address/size cells by default (spec
	// §3: "otherwise inherited from parent during rewriting"); Loop A
	// below overrides these if the node carries its own
	// #address-cells/#size-cells property. The root is seeded by
	// rewriteTree and has no parent.
	if n.Parent != nil {
		n.AddressCells = n.Parent.AddressCells
		n.SizeCells = n.Parent.SizeCells
	}

	if err := rewriteLoopA(n, arena); err != nil {
		return err
	}
	if err := rewriteLoopB(n, arena); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := rewriteNode(child, arena); err != nil {
			return err
		}
	}
	return nil
}

// rewriteLoopA classifies every property on n by name, finalizing
// n.AddressCells/n.SizeCells so that Loop B (and the children's own Loop
// B, which reads n as parent) can rely on them.
func rewriteLoopA(n *Node, arena *bump.Arena) *kernel.Error {
	for _, p := range n.Properties {
		switch p.Name {
		case "compatible":
			strs, err := bumpCompatible(p.Raw, arena)
			if err != nil {
				return err.Push("fdt", "failed to rewrite compatible", kernel.DtRewriteFailed)
			}
			p.Kind = PropCompatible
			p.Strings = strs

		case "model":
			p.Kind = PropModel
			p.Str = string(p.Raw)

		case "phandle":
			p.Kind = PropPhandle
			p.U32 = readCellsAsU32(p.Raw)

		case "status":
			kind, reason := decodeStatus(p.Raw)
			p.Kind = PropStatus
			p.StatusValue = kind
			p.StatusReason = reason

		case "#address-cells":
			v := readCellsAsU32(p.Raw)
			if v > maxAddressCells {
				return errf("fdt", "#address-cells exceeds the supported width", kernel.DtAddressCellsTooLarge).
					Push("fdt", "rewrite failed classifying #address-cells", kernel.DtRewriteFailed)
			}
			p.Kind = PropAddressCells
			p.U32 = v
			n.AddressCells = v

		case "#size-cells":
			v := readCellsAsU32(p.Raw)
			if v > maxSizeCells {
				return errf("fdt", "#size-cells exceeds the supported width", kernel.DtSizeCellsTooLarge).
					Push("fdt", "rewrite failed classifying #size-cells", kernel.DtRewriteFailed)
			}
			p.Kind = PropSizeCells
			p.U32 = v
			n.SizeCells = v

		case "dma-coherent", "dma-noncoherent":
			p.Kind = PropDMACoherence
			p.Bool = p.Name == "dma-coherent"

		case "device_type":
			p.Kind = PropDeviceType
			p.Str = string(p.Raw)

		case "virtual-reg":
			p.Kind = PropVirtualReg
			p.U32 = readCellsAsU32(p.Raw)

		case "interrupt-parent":
			p.Kind = PropInterruptParent
			p.U32 = readCellsAsU32(p.Raw)

		case "#interrupt-cells":
			p.Kind = PropInterruptCells
			p.U32 = readCellsAsU32(p.Raw)

		case "interrupt-controller":
			p.Kind = PropInterruptController
			p.Bool = true

		default:
			early.Printf("fdt: unrecognized property %s on node %s\n", p.Name, n.Name)
		}
	}
	return nil
}

// rewriteLoopB decodes reg (against the parent's address/size cells) and
// ranges/bus-ranges (against the child's and parent's address cells plus
// the child's size cells) now that cell widths are finalized.
func rewriteLoopB(n *Node, arena *bump.Arena) *kernel.Error {
	parentAddrCells, parentSizeCells := uint32(2), uint32(1)
	if n.Parent != nil {
		parentAddrCells, parentSizeCells = n.Parent.AddressCells, n.Parent.SizeCells
	}

	for _, p := range n.Properties {
		switch p.Name {
		case "reg":
			entries, err := bumpReg(p.Raw, parentAddrCells, parentSizeCells, arena)
			if err != nil {
				return err.Push("fdt", "failed to rewrite reg", kernel.DtRewriteFailed)
			}
			p.Kind = PropReg
			p.Reg = entries

		case "ranges", "bus-ranges":
			entries, err := bumpRanges(p.Raw, n.AddressCells, parentAddrCells, n.SizeCells, arena)
			if err != nil {
				return err.Push("fdt", "failed to rewrite ranges", kernel.DtRewriteFailed)
			}
			p.Kind = PropRanges
			p.Ranges = entries
		}
	}
	return nil
}

func readCellsAsU32(raw []byte) uint32 {
	if len(raw) < 4 {
		return 0
	}
	return uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
}

func decodeStatus(raw []byte) (Status, string) {
	s := string(raw)
	// raw carries a NUL terminator inside the property payload; trim it
	// so comparisons against the fixed status strings succeed.
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	switch s {
	case "okay", "ok":
		return StatusOkay, ""
	case "disabled":
		return StatusDisabled, ""
	case "reserved":
		return StatusReserved, ""
	case "fail":
		return StatusFail, ""
	default:
		if len(s) > 5 && s[:5] == "fail-" {
			return StatusFailWithReason, s[5:]
		}
		return StatusFail, s
	}
}

// bumpCompatible copies the null-delimited list of strings in raw into a
// bump-allocated array of string views, terminated by an empty view
// (spec §4.5, Loop A).
func bumpCompatible(raw []byte, arena *bump.Arena) ([]string, *kernel.Error) {
	var strs []string
	i := 0
	for i < len(raw) {
		start := i
		for i < len(raw) && raw[i] != 0 {
			i++
		}
		strs = append(strs, string(raw[start:i]))
		i++ // skip the NUL
	}

	pa, err := arena.Alloc(mem.Size(len(strs)+1) * mem.Size(unsafe.Sizeof("")))
	if err != nil {
		return nil, err
	}
	out := unsafe.Slice((*string)(unsafe.Pointer(pa)), len(strs)+1)
	copy(out, strs)
	out[len(strs)] = ""
	return out[:len(strs)], nil
}

func bumpReg(raw []byte, addrCells, sizeCells uint32, arena *bump.Arena) ([]RegEntry, *kernel.Error) {
	addrBytes := addrCells * 4
	sizeBytes := sizeCells * 4
	pairLen := addrBytes + sizeBytes
	if pairLen == 0 || uint32(len(raw))%pairLen != 0 {
		return nil, errf("fdt", "reg payload length does not divide evenly by the cell pair width", kernel.DtRewriteFailed)
	}
	count := uint32(len(raw)) / pairLen

	pa, err := arena.Alloc(mem.Size(count) * mem.Size(unsafe.Sizeof(RegEntry{})))
	if err != nil {
		return nil, err
	}
	out := unsafe.Slice((*RegEntry)(unsafe.Pointer(pa)), count)

	off := uint32(0)
	for i := uint32(0); i < count; i++ {
		addr := readCellsBE(raw, off, addrCells)
		size := readCellsAsUint64(raw, off+addrBytes, sizeCells)
		out[i] = RegEntry{Address: addr, Size: size}
		off += pairLen
	}
	return out, nil
}

func bumpRanges(raw []byte, childAddrCells, parentAddrCells, childSizeCells uint32, arena *bump.Arena) ([]RangeEntry, *kernel.Error) {
	childBytes := childAddrCells * 4
	parentBytes := parentAddrCells * 4
	sizeBytes := childSizeCells * 4
	tripleLen := childBytes + parentBytes + sizeBytes
	if tripleLen == 0 || uint32(len(raw))%tripleLen != 0 {
		return nil, errf("fdt", "ranges payload length does not divide evenly by the triple width", kernel.DtRewriteFailed)
	}
	count := uint32(len(raw)) / tripleLen

	pa, err := arena.Alloc(mem.Size(count) * mem.Size(unsafe.Sizeof(RangeEntry{})))
	if err != nil {
		return nil, err
	}
	out := unsafe.Slice((*RangeEntry)(unsafe.Pointer(pa)), count)

	off := uint32(0)
	for i := uint32(0); i < count; i++ {
		child := readCellsBE(raw, off, childAddrCells)
		parent := readCellsBE(raw, off+childBytes, parentAddrCells)
		size := readCellsAsUint64(raw, off+childBytes+parentBytes, childSizeCells)
		out[i] = RangeEntry{ChildAddress: child, ParentAddress: parent, Size: size}
		off += tripleLen
	}
	return out, nil
}
