// Package fdt parses a Flattened Device Tree blob handed over by the
// boot loader (spec §4.5): a tokenized structural scan builds a raw
// node/property tree, then a typed rewrite pass classifies every
// property by name and decodes the cell-width-dependent reg/ranges
// payloads.
//
// The cursor-over-a-raw-blob walk, with explicit big-endian decode
// helpers at every multi-byte read instead of a direct struct overlay,
// is grounded on the teacher's kernel/hal/multiboot/multiboot.go
// findTagByType cursor-advance idiom, adapted from multiboot's
// little-endian tags to the DTB's big-endian tokens (spec §9 effectively
// forbids aliasing a big-endian field through a little-endian struct
// overlay the way multiboot.go does for its native-endian tags).
package fdt

import (
	"rv64kernel/kernel"
	"rv64kernel/kernel/mem/bump"
)

func errf(module, message string, c kernel.Code) *kernel.Error {
	return &kernel.Error{Module: module, Message: message, Stack: kernel.NewCodeStack(c)}
}

// Parse reads the DTB blob located at the given (HHDM-mapped) virtual
// address and returns the fully typed tree. arena backs every
// bump-allocated array the rewrite pass produces (compatible's string
// views, reg/ranges' decoded arrays); callers typically pass a
// kmain-owned *bump.Arena that outlives the tree.
func Parse(blob uintptr, arena *bump.Arena) (*Tree, *kernel.Error) {
	h, err := readHeader(blob)
	if err != nil {
		return nil, err
	}

	reserved := parseReservedBlock(blob, h.offMemRsvMap)

	root, err := scanStructure(blob, h)
	if err != nil {
		return nil, err
	}

	if err := rewriteTree(root, arena); err != nil {
		return nil, err
	}

	return &Tree{Root: root, Reserved: reserved}, nil
}
