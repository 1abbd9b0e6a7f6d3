// Package vec implements the PMM-backed growable sequence described in
// spec §4.6: parser support used by the device-tree structural scan as
// its parent-node stack. Growth
// allocates a fresh, page-rounded physical range from the PMM, copies
// the old contents across, and frees the old range; there is no
// incremental free.
//
// The allocate-copy-free-old-range growth idiom generalizes the
// teacher's kernel/mem/pmm/allocator/bootmem.go allocation path; no pack
// repo implements a PMM-backed growable vector directly.
package vec

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/hal"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func errf(module, message string, c kernel.Code) *kernel.Error {
	return &kernel.Error{Module: module, Message: message, Stack: kernel.NewCodeStack(c)}
}

// Vec is a PMM-backed, growable sequence of T. The zero value is ready
// to use via PushBack/EmplaceBack, which allocate the first backing
// range lazily.
type Vec[T any] struct {
	basePA   uintptr
	baseVA   uintptr
	capacity int
	length   int
	elemSize uintptr
}

// New validates that T fits within one page (spec §4.6: "element size
// must be ≤ one page") and returns an empty Vec.
func New[T any]() (*Vec[T], *kernel.Error) {
	var zero T
	size := unsafe.Sizeof(zero)
	if size > uintptr(mem.PageSize) {
		return nil, errf("vec", "element size exceeds one page", kernel.VecElementTooLarge)
	}
	return &Vec[T]{elemSize: size}, nil
}

// Len returns the number of elements currently stored.
func (v *Vec[T]) Len() int { return v.length }

// Cap returns the number of elements the current backing range holds
// before the next PushBack triggers a grow.
func (v *Vec[T]) Cap() int { return v.capacity }

// At returns a pointer to the i'th element, or nil if i is out of
// bounds.
func (v *Vec[T]) At(i int) *T {
	if i < 0 || i >= v.length {
		return nil
	}
	return (*T)(unsafe.Pointer(v.baseVA + uintptr(i)*v.elemSize))
}

// PopBack removes and returns the last element. It reports false if the
// vector is empty. Popping never shrinks the backing range; the next
// PushBack reuses the freed slot.
func (v *Vec[T]) PopBack() (T, bool) {
	var zero T
	if v.length == 0 {
		return zero, false
	}
	v.length--
	slot := (*T)(unsafe.Pointer(v.baseVA + uintptr(v.length)*v.elemSize))
	return *slot, true
}

// Back returns a pointer to the last element, or nil if the vector is
// empty.
func (v *Vec[T]) Back() *T {
	if v.length == 0 {
		return nil
	}
	return v.At(v.length - 1)
}

// PushBack appends value, growing the backing range first if full.
func (v *Vec[T]) PushBack(value T) *kernel.Error {
	slot, err := v.reserve()
	if err != nil {
		return err
	}
	*slot = value
	return nil
}

// EmplaceBack reserves the next slot, zeroes it, and returns a pointer
// to it so the caller can construct the value in place rather than
// copying a fully built T.
func (v *Vec[T]) EmplaceBack() (*T, *kernel.Error) {
	slot, err := v.reserve()
	if err != nil {
		return nil, err
	}
	*slot = *new(T)
	return slot, nil
}

func (v *Vec[T]) reserve() (*T, *kernel.Error) {
	if v.length == v.capacity {
		if err := v.grow(); err != nil {
			return nil, err
		}
	}
	slot := (*T)(unsafe.Pointer(v.baseVA + uintptr(v.length)*v.elemSize))
	v.length++
	return slot, nil
}

// grow allocates a fresh range sized to the next growth target rounded
// up to a whole number of pages (3/2 of the current capacity, or one
// element when empty), copies the live elements across, and frees the
// old range.
func (v *Vec[T]) grow() *kernel.Error {
	pageSize := uintptr(mem.PageSize)

	targetElems := v.capacity + v.capacity/2
	if targetElems <= v.capacity {
		targetElems = v.capacity + 1
	}

	targetBytes := alignUp(uintptr(targetElems)*v.elemSize, pageSize)
	if targetBytes == 0 {
		targetBytes = pageSize
	}

	newPA, err := pmm.Alloc(mem.Size(targetBytes))
	if err != nil {
		return err.Push("vec", "failed to grow backing storage", kernel.PmmOutOfMem)
	}
	newVA := hal.PhysToVirt(newPA)

	if v.length > 0 {
		kernel.Memcopy(v.baseVA, newVA, uintptr(v.length)*v.elemSize)
	}
	if v.capacity > 0 {
		if err := freeRange(v.basePA, uintptr(v.capacity)*v.elemSize); err != nil {
			return err
		}
	}

	v.basePA = newPA
	v.baseVA = newVA
	v.capacity = int(targetBytes / v.elemSize)
	return nil
}

func freeRange(pa uintptr, length uintptr) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	pages := alignUp(length, pageSize) / pageSize
	for i := uintptr(0); i < pages; i++ {
		if err := pmm.Free(pa + i*pageSize); err != nil {
			return err
		}
	}
	return nil
}
