// Package memory sub-allocates large device memory blocks into aligned
// ranges, so buffers and images share a handful of driver allocations.
package memory

import (
	"fmt"
	"sort"
)

// Range is an allocated span inside a block.
type Range struct {
	Offset uint64
	Size   uint64
}

func (r Range) End() uint64 { return r.Offset + r.Size }

func (r Range) String() string {
	return fmt.Sprintf("[%d %d]", r.Offset, r.Size)
}

// AlignUp rounds v up to a multiple of align. An align of 0 or 1 leaves v
// unchanged.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if m := v % align; m != 0 {
		return v - m + align
	}
	return v
}

// Allocator is a first-fit allocator over [0, size). Live ranges are kept
// sorted by offset; freeing a range coalesces the gap implicitly.
type Allocator struct {
	size   uint64
	ranges []Range
	used   uint64
}

func NewAllocator(size uint64) *Allocator {
	return &Allocator{size: size}
}

// Allocate returns the first aligned range of size bytes that fits.
func (a *Allocator) Allocate(size, align uint64) (Range, bool) {
	if size == 0 || size > a.size {
		return Range{}, false
	}
	var cursor uint64
	for i, r := range a.ranges {
		off := AlignUp(cursor, align)
		if off+size <= r.Offset {
			nr := Range{Offset: off, Size: size}
			a.ranges = append(a.ranges, Range{})
			copy(a.ranges[i+1:], a.ranges[i:])
			a.ranges[i] = nr
			a.used += size
			return nr, true
		}
		cursor = r.End()
	}
	off := AlignUp(cursor, align)
	if off+size > a.size {
		return Range{}, false
	}
	nr := Range{Offset: off, Size: size}
	a.ranges = append(a.ranges, nr)
	a.used += size
	return nr, true
}

// Free releases r. It reports false if r was not allocated.
func (a *Allocator) Free(r Range) bool {
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].Offset >= r.Offset })
	if i == len(a.ranges) || a.ranges[i] != r {
		return false
	}
	a.ranges = append(a.ranges[:i], a.ranges[i+1:]...)
	a.used -= r.Size
	return true
}

func (a *Allocator) Size() uint64 { return a.size }
func (a *Allocator) Used() uint64 { return a.used }
func (a *Allocator) Len() int     { return len(a.ranges) }
func (a *Allocator) Empty() bool  { return len(a.ranges) == 0 }

// Largest returns the largest free gap, ignoring alignment.
func (a *Allocator) Largest() uint64 {
	var cursor, largest uint64
	for _, r := range a.ranges {
		if gap := r.Offset - cursor; gap > largest {
			largest = gap
		}
		cursor = r.End()
	}
	if gap := a.size - cursor; gap > largest {
		largest = gap
	}
	return largest
}

func (a *Allocator) String() string {
	return fmt.Sprintf("%d/%d %v", a.used, a.size, a.ranges)
}
