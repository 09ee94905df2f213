package addr

import "fmt"

// popcount32 reports the number of set bits, used to test power-of-two
// dimensions the same way the NAND timing model's address converter does.
func popcount32(v uint32) int {
	n := 0
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}

func isPow2(v uint32) bool { return v != 0 && popcount32(v) == 1 }

// Parameter is the immutable-after-init dimension set of the simulated NAND
// array. Construct with NewParameter; every field below is derived once and
// never mutated afterward, mirroring how NewBufMgr precomputes pageBits and
// pageDataSize from the requested page-size bits exactly once.
type Parameter struct {
	Channel uint32
	Way     uint32
	Die     uint32
	Plane   uint32
	Block   uint32
	Page    uint32

	PageSize  uint32
	SpareSize uint32
	Superpage uint32

	// PageAllocation gives the interleave order of the four parallelism
	// dimensions, fastest-varying first.
	PageAllocation [4]Dimension

	OverProvision float64

	// Derived.
	Parallelism             uint32 // channel*way*die*plane
	ParallelismUnits        uint32 // Parallelism / Superpage
	TotalPhysicalBlocks     uint64 // Parallelism * Block
	TotalLogicalBlocks      uint64 // TotalPhysicalBlocks * (1-OP)
	TotalPhysicalPages      uint64 // TotalPhysicalBlocks * Page
	TotalLogicalPages       uint64 // TotalLogicalBlocks * Page
	TotalSuperblocks        uint64 // ParallelismUnits * Block
	TotalPhysicalSuperPages uint64 // TotalSuperblocks * Page

	powerOfTwo bool

	// Shift/mask fast path, valid only when powerOfTwo is true. Indexed by
	// Dimension for the four parallelism axes; Block/Page kept separately.
	shift [4]uint32
	mask  [4]uint32

	shiftBlock, maskBlock uint32
	shiftPage, maskPage   uint32
}

// NewParameter validates and constructs a Parameter, deriving every
// capacity/parallelism figure and precomputing the packing fast path.
func NewParameter(channel, way, die, plane, block, page, pageSize, spareSize, superpage uint32,
	pageAllocation [4]Dimension, overProvision float64) *Parameter {

	if channel == 0 || way == 0 || die == 0 || plane == 0 || block == 0 || page == 0 {
		panic("addr: NewParameter: every dimension must be nonzero")
	}
	if overProvision < 0 || overProvision >= 1 {
		panic(fmt.Sprintf("addr: NewParameter: over-provisioning ratio %f out of [0,1)", overProvision))
	}

	p := &Parameter{
		Channel:        channel,
		Way:            way,
		Die:            die,
		Plane:          plane,
		Block:          block,
		Page:           page,
		PageSize:       pageSize,
		SpareSize:      spareSize,
		Superpage:      superpage,
		PageAllocation: pageAllocation,
		OverProvision:  overProvision,
	}

	p.Parallelism = channel * way * die * plane
	if superpage == 0 || p.Parallelism%superpage != 0 {
		panic("addr: NewParameter: superpage must divide parallelism")
	}
	p.ParallelismUnits = p.Parallelism / superpage

	p.TotalPhysicalBlocks = uint64(p.Parallelism) * uint64(block)
	p.TotalLogicalBlocks = uint64(float64(p.TotalPhysicalBlocks) * (1 - overProvision))
	p.TotalPhysicalPages = p.TotalPhysicalBlocks * uint64(page)
	p.TotalLogicalPages = p.TotalLogicalBlocks * uint64(page)
	p.TotalSuperblocks = uint64(p.ParallelismUnits) * uint64(block)
	p.TotalPhysicalSuperPages = p.TotalSuperblocks * uint64(page)

	if p.TotalLogicalPages > p.TotalPhysicalPages {
		panic("addr: NewParameter: totalLogicalPages exceeds totalPhysicalPages*(1-OP)")
	}

	p.powerOfTwo = isPow2(channel) && isPow2(way) && isPow2(die) && isPow2(plane) &&
		isPow2(block) && isPow2(page)

	if p.powerOfTwo {
		sizes := [4]uint32{channel, way, die, plane}
		var sum uint32
		for _, dim := range pageAllocation {
			sz := sizes[dim]
			p.shift[dim] = sum
			p.mask[dim] = sz - 1
			sum += uint32(popcount32(sz - 1))
		}
		p.shiftBlock = sum
		p.maskBlock = block - 1
		sum += uint32(popcount32(block - 1))
		p.shiftPage = sum
		p.maskPage = page - 1
	}

	return p
}

func (p *Parameter) dimSize(d Dimension) uint32 {
	switch d {
	case DimChannel:
		return p.Channel
	case DimWay:
		return p.Way
	case DimDie:
		return p.Die
	case DimPlane:
		return p.Plane
	default:
		panic("addr: unknown dimension")
	}
}
