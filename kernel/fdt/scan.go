package fdt

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/fdt/token"
	"rv64kernel/kernel/mem/vec"
)

func alignUp4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// parseReservedBlock walks the memory-reservation block: successive
// big-endian (address, size) uint64 pairs starting at offset off,
// terminated by a (0, 0) pair (spec §4.5, pass 1).
func parseReservedBlock(blob uintptr, off uint32) []ReservedRegion {
	var regions []ReservedRegion
	cursor := off
	for {
		addr := readBE64(blob, cursor)
		size := readBE64(blob, cursor+8)
		cursor += 16
		if addr == 0 && size == 0 {
			break
		}
		regions = append(regions, ReservedRegion{Address: addr, Size: size})
	}
	return regions
}

// scanStructure performs the tokenized structural scan (spec §4.5, pass
// 1): it builds the raw node/property tree with every property left
// PropRaw, a view into the blob. The parent chain during the walk is
// tracked with a PMM-backed Vec acting as a LIFO stack; the nodes
// themselves and their Children slices are ordinary Go allocations.
func scanStructure(blob uintptr, h *header) (*Node, *kernel.Error) {
	parents, err := vec.New[*Node]()
	if err != nil {
		return nil, err.Push("fdt", "failed to allocate the node parent stack", kernel.DtRewriteFailed)
	}

	cursor := h.offStructs
	end := h.offStructs + h.sizeStructs

	var root *Node
	var current *Node
	sawEnd := false

	for cursor < end {
		tok := token.Token(readBE32(blob, cursor))
		cursor += 4

		switch tok {
		case token.BeginNode:
			name, consumed := cStringAt(blob+uintptr(cursor), end-cursor)
			cursor += alignUp4(consumed)

			n := &Node{Name: name, Parent: current}
			if current == nil {
				if root != nil {
					return nil, errf("fdt", "more than one root-level node", kernel.DtRewriteFailed)
				}
				root = n
			} else {
				current.Children = append(current.Children, n)
			}

			if err := parents.PushBack(current); err != nil {
				return nil, err.Push("fdt", "node parent stack overflow", kernel.DtRewriteFailed)
			}
			current = n

		case token.EndNode:
			parent, ok := parents.PopBack()
			if !ok {
				return nil, errf("fdt", "FDT_END_NODE with no matching FDT_BEGIN_NODE", kernel.DtRewriteFailed)
			}
			if current != nil {
				current.freezeProperties()
			}
			current = parent

		case token.Prop:
			propLen := readBE32(blob, cursor)
			nameOff := readBE32(blob, cursor+4)
			cursor += 8

			if current == nil {
				return nil, errf("fdt", "FDT_PROP outside of any node", kernel.DtRewriteFailed)
			}

			name := stringAt(blob, h.offStrings, nameOff)
			var raw []byte
			if propLen > 0 {
				raw = unsafe.Slice((*byte)(unsafe.Pointer(blob+uintptr(cursor))), int(propLen))
			}
			current.prependProperty(&Property{Name: name, Kind: PropRaw, Raw: raw})
			cursor += alignUp4(propLen)

		case token.Nop:
			// no-op token, nothing to advance beyond the 4 bytes already consumed.

		case token.End:
			if parents.Len() != 0 || current != nil {
				return nil, errf("fdt", "FDT_END encountered above depth 0", kernel.DtRewriteFailed)
			}
			sawEnd = true

		default:
			return nil, errf("fdt", "unrecognized structure-block token", kernel.DtRewriteFailed)
		}

		if sawEnd {
			break
		}
	}

	if root == nil {
		return nil, errf("fdt", "blob contains no nodes", kernel.DtNoNodes)
	}
	return root, nil
}
