package fdt

// PropKind tags which typed interpretation a Property holds after pass 2
// rewrites it (spec §4.5, Loop A/B). A Property not recognized by name
// keeps PropRaw and carries only its blob-relative byte view.
type PropKind uint8

// Property kinds produced by the typed rewrite pass.
const (
	PropRaw PropKind = iota
	PropCompatible
	PropModel
	PropPhandle
	PropStatus
	PropAddressCells
	PropSizeCells
	PropDMACoherence
	PropDeviceType
	PropVirtualReg
	PropInterruptParent
	PropInterruptCells
	PropInterruptController
	PropReg
	PropRanges
)

// Status is the decoded value of a "status" property.
type Status uint8

// Recognized status values (devicetree specification §2.3.4).
const (
	StatusOkay Status = iota
	StatusDisabled
	StatusReserved
	StatusFail
	StatusFailWithReason
)

// CellValue holds a big-endian cell-encoded value of up to 3 cells (96
// bits), which is the widest quantity address_cells ever produces
// (spec §4.5 caps address_cells at 3). Hi carries any bits above 64;
// it is zero whenever the source value used 1 or 2 cells.
type CellValue struct {
	Hi uint32
	Lo uint64
}

// RegEntry is one decoded (address, size) pair from a "reg" property.
type RegEntry struct {
	Address CellValue
	Size    uint64
}

// RangeEntry is one decoded (child address, parent address, size)
// triple from a "ranges"/"bus-ranges" property.
type RangeEntry struct {
	ChildAddress  CellValue
	ParentAddress CellValue
	Size          uint64
}

// Property is one node property, tagged by Kind after pass 2 has
// classified it. Exactly one of the typed fields below is meaningful for
// a given Kind; Raw is always populated by pass 1 and left untouched by
// pass 2 for properties that stay PropRaw.
type Property struct {
	Name string
	Kind PropKind

	Raw []byte // pass-1 view into the blob; valid for every property

	Strings      []string // PropCompatible
	Str          string   // PropModel, PropDeviceType
	U32          uint32   // PropPhandle, PropVirtualReg, PropInterruptParent, PropInterruptCells, PropAddressCells, PropSizeCells
	Bool         bool     // PropDMACoherence, PropInterruptController
	StatusValue  Status   // PropStatus
	StatusReason string   // PropStatus when StatusValue == StatusFailWithReason

	Reg    []RegEntry   // PropReg
	Ranges []RangeEntry // PropRanges

	next *Property // pass-1 singly linked prepend list
}

// Node is one device-tree node. Children and Properties are exposed as
// slices for callers; internally pass 1 builds Properties as a
// prepend-ordered singly linked list (mirroring the structure-block
// scan order) which freezeProperties converts to a slice.
type Node struct {
	Name   string
	Parent *Node

	AddressCells uint32
	SizeCells    uint32

	Children   []*Node
	Properties []*Property

	propHead *Property
}

// prependProperty pushes p onto the front of the node's property list,
// matching the structural scan's "prepend to the current node's
// property list" rule (spec §4.5, pass 1).
func (n *Node) prependProperty(p *Property) {
	p.next = n.propHead
	n.propHead = p
}

// freezeProperties materializes the linked property list built during
// pass 1 into Properties, in the same prepend order pass 1 left it.
func (n *Node) freezeProperties() {
	count := 0
	for p := n.propHead; p != nil; p = p.next {
		count++
	}
	n.Properties = make([]*Property, count)
	i := 0
	for p := n.propHead; p != nil; p = p.next {
		n.Properties[i] = p
		i++
	}
}

// PropertyByName returns the named property, or nil if the node has
// none by that name.
func (n *Node) PropertyByName(name string) *Property {
	for _, p := range n.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ReservedRegion is one (address, size) entry from the memory
// reservation block.
type ReservedRegion struct {
	Address uint64
	Size    uint64
}

// Tree is the fully parsed and typed result of Parse.
type Tree struct {
	Root     *Node
	Reserved []ReservedRegion
}
