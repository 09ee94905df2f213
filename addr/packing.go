package addr

// ParallelismIndex packs the four parallelism-dimension indices into a
// single value in [0, Parallelism), fastest-varying dimension first
// according to PageAllocation. This mirrors the flash-interface address
// converter's two code paths: shift+mask when every NAND dimension is a
// power of two, otherwise a modulo/divide chain walked in PageAllocation
// order.
func (p *Parameter) ParallelismIndex(channel, way, die, plane uint32) uint32 {
	vals := [4]uint32{channel, way, die, plane}
	if err := p.checkDim(DimChannel, channel); err != nil {
		panic(err)
	}
	if err := p.checkDim(DimWay, way); err != nil {
		panic(err)
	}
	if err := p.checkDim(DimDie, die); err != nil {
		panic(err)
	}
	if err := p.checkDim(DimPlane, plane); err != nil {
		panic(err)
	}

	if p.powerOfTwo {
		var out uint32
		for _, d := range p.PageAllocation {
			out |= (vals[d] & p.mask[d]) << p.shift[d]
		}
		return out
	}

	var out uint64
	var mul uint64 = 1
	for _, d := range p.PageAllocation {
		out += uint64(vals[d]) * mul
		mul *= uint64(p.dimSize(d))
	}
	return uint32(out)
}

// UnpackParallelismIndex reverses ParallelismIndex.
func (p *Parameter) UnpackParallelismIndex(idx uint32) (channel, way, die, plane uint32) {
	vals := [4]uint32{}

	if p.powerOfTwo {
		for _, d := range p.PageAllocation {
			vals[d] = (idx >> p.shift[d]) & p.mask[d]
		}
	} else {
		n := uint64(idx)
		for _, d := range p.PageAllocation {
			sz := uint64(p.dimSize(d))
			vals[d] = uint32(n % sz)
			n /= sz
		}
	}

	return vals[DimChannel], vals[DimWay], vals[DimDie], vals[DimPlane]
}

// Pack builds a PPN from the full six-dimension physical address. It is a
// bijection over the valid domain (testable property #6 in spec §8).
func (p *Parameter) Pack(channel, way, die, plane, block, page uint32) PPN {
	if err := p.checkDim(DimBlockPseudo, block); err != nil {
		panic(err)
	}
	if page >= p.Page {
		panic(&OutOfRangeError{Dimension: "page", Index: uint64(page), Bound: uint64(p.Page)})
	}

	par := p.ParallelismIndex(channel, way, die, plane)

	if p.powerOfTwo {
		ppn := uint64(par) | uint64(block&p.maskBlock)<<p.shiftBlock | uint64(page&p.maskPage)<<p.shiftPage
		return PPN(ppn)
	}

	return PPN(uint64(par) + uint64(p.Parallelism)*(uint64(block)+uint64(p.Block)*uint64(page)))
}

// Unpack reverses Pack.
func (p *Parameter) Unpack(ppn PPN) (channel, way, die, plane, block, page uint32) {
	var par, blk, pg uint32

	if p.powerOfTwo {
		par = uint32(ppn)
		blk = uint32(ppn>>p.shiftBlock) & p.maskBlock
		pg = uint32(ppn>>p.shiftPage) & p.maskPage
	} else {
		n := uint64(ppn) % uint64(p.Parallelism)
		par = uint32(n)
		rest := uint64(ppn) / uint64(p.Parallelism)
		blk = uint32(rest % uint64(p.Block))
		pg = uint32(rest / uint64(p.Block))
	}

	channel, way, die, plane = p.UnpackParallelismIndex(par)
	return channel, way, die, plane, blk, pg
}

// DimBlockPseudo is not one of the four interleaved parallelism dimensions;
// it exists only so checkDim can validate the block index with the same
// helper used for channel/way/die/plane.
const DimBlockPseudo Dimension = 255

func (p *Parameter) checkDim(d Dimension, v uint32) error {
	var bound uint32
	switch d {
	case DimChannel:
		bound = p.Channel
	case DimWay:
		bound = p.Way
	case DimDie:
		bound = p.Die
	case DimPlane:
		bound = p.Plane
	case DimBlockPseudo:
		bound = p.Block
	}
	if v >= bound {
		name := d.String()
		if d == DimBlockPseudo {
			name = "block"
		}
		return &OutOfRangeError{Dimension: name, Index: uint64(v), Bound: uint64(bound)}
	}
	return nil
}

// MakePPN derives the physical page address of one die's worth of a
// superpage stripe: psbn identifies the (parallelism-unit, block) pair,
// superpageIdx selects the die within the stripe (range [0,Superpage)), and
// pageIdx is the page offset within the block.
func (p *Parameter) MakePPN(psbn PSBN, superpageIdx, pageIdx uint32) PPN {
	if !psbn.Valid() {
		panic("addr: MakePPN: invalid PSBN")
	}
	if superpageIdx >= p.Superpage {
		panic(&OutOfRangeError{Dimension: "superpageIdx", Index: uint64(superpageIdx), Bound: uint64(p.Superpage)})
	}
	if pageIdx >= p.Page {
		panic(&OutOfRangeError{Dimension: "page", Index: uint64(pageIdx), Bound: uint64(p.Page)})
	}

	unitIdx, blockIdx := p.splitPSBN(psbn)
	par := unitIdx*p.Superpage + superpageIdx

	if p.powerOfTwo {
		ppn := uint64(par) | uint64(blockIdx&p.maskBlock)<<p.shiftBlock | uint64(pageIdx&p.maskPage)<<p.shiftPage
		return PPN(ppn)
	}
	return PPN(uint64(par) + uint64(p.Parallelism)*(uint64(blockIdx)+uint64(p.Block)*uint64(pageIdx)))
}

func (p *Parameter) splitPSBN(psbn PSBN) (unitIdx, blockIdx uint32) {
	if uint64(psbn) >= p.TotalSuperblocks {
		panic(&OutOfRangeError{Dimension: "psbn", Index: uint64(psbn), Bound: p.TotalSuperblocks})
	}
	unitIdx = uint32(uint64(psbn) / uint64(p.Block))
	blockIdx = uint32(uint64(psbn) % uint64(p.Block))
	return
}

// GetPSBNFromPSPN returns the super-block containing a physical super-page.
func (p *Parameter) GetPSBNFromPSPN(pspn PSPN) PSBN {
	if uint64(pspn) >= p.TotalPhysicalSuperPages {
		panic(&OutOfRangeError{Dimension: "pspn", Index: uint64(pspn), Bound: p.TotalPhysicalSuperPages})
	}
	return PSBN(uint64(pspn) / uint64(p.Page))
}

// GetPageIndexFromPSPN returns the page offset of a physical super-page
// within its super-block.
func (p *Parameter) GetPageIndexFromPSPN(pspn PSPN) uint32 {
	if uint64(pspn) >= p.TotalPhysicalSuperPages {
		panic(&OutOfRangeError{Dimension: "pspn", Index: uint64(pspn), Bound: p.TotalPhysicalSuperPages})
	}
	return uint32(uint64(pspn) % uint64(p.Page))
}

// GetPSBNFromPPN returns the super-block containing a physical page,
// reversing MakePPN's (psbn, superpageIdx, pageIdx) -> ppn packing.
func (p *Parameter) GetPSBNFromPPN(ppn PPN) PSBN {
	channel, way, die, plane, block, _ := p.Unpack(ppn)
	par := p.ParallelismIndex(channel, way, die, plane)
	unitIdx := par / p.Superpage
	return PSBN(uint64(unitIdx)*uint64(p.Block) + uint64(block))
}

// GetParallelismIndexFromPSBN returns the allocator parallelism-unit index
// (range [0, ParallelismUnits)) owning psbn.
func (p *Parameter) GetParallelismIndexFromPSBN(psbn PSBN) uint32 {
	unitIdx, _ := p.splitPSBN(psbn)
	return unitIdx
}

// MakePSPN combines a super-block and a page index into a physical
// super-page number (the mapping table's physical-side key).
func (p *Parameter) MakePSPN(psbn PSBN, pageIdx uint32) PSPN {
	if uint64(psbn) >= p.TotalSuperblocks {
		panic(&OutOfRangeError{Dimension: "psbn", Index: uint64(psbn), Bound: p.TotalSuperblocks})
	}
	if pageIdx >= p.Page {
		panic(&OutOfRangeError{Dimension: "page", Index: uint64(pageIdx), Bound: uint64(p.Page)})
	}
	return PSPN(uint64(psbn)*uint64(p.Page) + uint64(pageIdx))
}

// GetLSPNFromLPN returns the logical super-page containing lpn.
func (p *Parameter) GetLSPNFromLPN(lpn LPN) LSPN {
	return LSPN(uint64(lpn) / uint64(p.Superpage))
}

// GetSuperpageIndexFromLPN returns lpn's offset within its logical
// super-page, range [0, Superpage).
func (p *Parameter) GetSuperpageIndexFromLPN(lpn LPN) uint32 {
	return uint32(uint64(lpn) % uint64(p.Superpage))
}

// MakeLPN combines a logical super-page and an offset into a logical page.
func (p *Parameter) MakeLPN(lspn LSPN, superpageIdx uint32) LPN {
	if superpageIdx >= p.Superpage {
		panic(&OutOfRangeError{Dimension: "superpageIdx", Index: uint64(superpageIdx), Bound: uint64(p.Superpage)})
	}
	return LPN(uint64(lspn)*uint64(p.Superpage) + uint64(superpageIdx))
}
