// Package addr implements the address-parameter and packing layer of the
// FTL core: the dimensions of the NAND array, and the pure, allocation-free
// functions that translate between logical/physical address spaces.
package addr

import "fmt"

// LPN is a logical page number.
type LPN uint64

// LSPN is a logical super-page number (LPN / superpage).
type LSPN uint64

// PPN is a physical page number.
type PPN uint64

// PSPN is a physical super-page number.
type PSPN uint64

// PSBN is a physical super-block number.
type PSBN uint64

// Invalid sentinels: all distinct address types use all-ones as "no value".
const (
	InvalidLPN  LPN  = ^LPN(0)
	InvalidLSPN LSPN = ^LSPN(0)
	InvalidPPN  PPN  = ^PPN(0)
	InvalidPSPN PSPN = ^PSPN(0)
	InvalidPSBN PSBN = ^PSBN(0)
)

func (l LPN) Valid() bool  { return l != InvalidLPN }
func (l LSPN) Valid() bool { return l != InvalidLSPN }
func (p PPN) Valid() bool  { return p != InvalidPPN }
func (p PSPN) Valid() bool { return p != InvalidPSPN }
func (b PSBN) Valid() bool { return b != InvalidPSBN }

// Dimension names the four parallelism axes that interleave into a
// physical address, in the order configured by Parameter.PageAllocation.
type Dimension uint8

const (
	DimChannel Dimension = iota
	DimWay
	DimDie
	DimPlane
)

func (d Dimension) String() string {
	switch d {
	case DimChannel:
		return "channel"
	case DimWay:
		return "way"
	case DimDie:
		return "die"
	case DimPlane:
		return "plane"
	default:
		return "unknown"
	}
}

// OutOfRangeError reports that an index exceeded its dimension's bound.
type OutOfRangeError struct {
	Dimension string
	Index     uint64
	Bound     uint64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("addr: %s index %d out of range [0,%d)", e.Dimension, e.Index, e.Bound)
}
