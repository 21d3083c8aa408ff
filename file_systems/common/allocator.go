// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/blockfs"
)

type UnitID uint32

// Allocator tracks which units (usually blocks) of a fixed-size pool are in
// use. Allocation is always first-fit, so the lowest-numbered free unit is
// handed out first.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	TotalUnits       uint
	unitsInUse       uint
}

// NewAllocator creates a new allocation bitmap with all bits cleared.
func NewAllocator(totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		TotalUnits:       totalUnits,
	}
}

func (alloc *Allocator) checkUnit(unit UnitID) error {
	if uint(unit) >= alloc.TotalUnits {
		msg := fmt.Sprintf(
			"invalid unit id: %d not in range [0, %d)",
			unit,
			alloc.TotalUnits)
		return blockfs.ErrInvalidArgument.WithMessage(msg)
	}
	return nil
}

// IsAllocated returns true if the unit is in use. Units out of range are
// reported as in use so they're never handed out.
func (alloc *Allocator) IsAllocated(unit UnitID) bool {
	if uint(unit) >= alloc.TotalUnits {
		return true
	}
	return alloc.AllocationBitmap.Get(int(unit))
}

// MarkAllocated marks a unit as in use without searching for it. Marking a unit
// that's already in use is not an error.
func (alloc *Allocator) MarkAllocated(unit UnitID) error {
	err := alloc.checkUnit(unit)
	if err != nil {
		return err
	}
	if !alloc.AllocationBitmap.Get(int(unit)) {
		alloc.AllocationBitmap.Set(int(unit), true)
		alloc.unitsInUse++
	}
	return nil
}

// ReserveRange marks `count` units starting at `start` as in use.
func (alloc *Allocator) ReserveRange(start UnitID, count uint) error {
	for i := uint(0); i < count; i++ {
		err := alloc.MarkAllocated(start + UnitID(i))
		if err != nil {
			return err
		}
	}
	return nil
}

// AllocateSingle allocates the first available unit it finds and returns its
// index. If no units are available, it returns [blockfs.ErrOutOfSpace].
func (alloc *Allocator) AllocateSingle() (UnitID, error) {
	if alloc.unitsInUse < alloc.TotalUnits {
		for i := uint(0); i < alloc.TotalUnits; i++ {
			if !alloc.AllocationBitmap.Get(int(i)) {
				alloc.AllocationBitmap.Set(int(i), true)
				alloc.unitsInUse++
				return UnitID(i), nil
			}
		}
	}

	return 0, blockfs.ErrOutOfSpace.WithMessage(
		fmt.Sprintf("all %d units are in use", alloc.TotalUnits))
}

// FreeSingle frees an allocated unit. Trying to free a unit that isn't allocated
// returns [blockfs.ErrAlreadyFree].
func (alloc *Allocator) FreeSingle(unit UnitID) error {
	err := alloc.checkUnit(unit)
	if err != nil {
		return err
	}
	if !alloc.AllocationBitmap.Get(int(unit)) {
		msg := fmt.Sprintf("unit %d is already free", unit)
		return blockfs.ErrAlreadyFree.WithMessage(msg)
	}

	alloc.AllocationBitmap.Set(int(unit), false)
	alloc.unitsInUse--
	return nil
}

// UnitsInUse gives the number of allocated units.
func (alloc *Allocator) UnitsInUse() uint {
	return alloc.unitsInUse
}

// UnitsFree gives the number of units that can still be allocated.
func (alloc *Allocator) UnitsFree() uint {
	return alloc.TotalUnits - alloc.unitsInUse
}
