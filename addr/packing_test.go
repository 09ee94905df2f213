package addr

import "testing"

func testPowerOfTwoParam() *Parameter {
	return NewParameter(4, 2, 2, 1, 8, 16, 4096, 16, 4,
		[4]Dimension{DimChannel, DimWay, DimDie, DimPlane}, 0)
}

// testNonPowerOfTwoParam exercises the modulo/divide fallback Pack/Unpack
// take when not every NAND dimension is a power of two.
func testNonPowerOfTwoParam() *Parameter {
	return NewParameter(3, 1, 1, 1, 5, 8, 4096, 16, 1,
		[4]Dimension{DimChannel, DimWay, DimDie, DimPlane}, 0)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, p := range []*Parameter{testPowerOfTwoParam(), testNonPowerOfTwoParam()} {
		for channel := uint32(0); channel < p.Channel; channel++ {
			for way := uint32(0); way < p.Way; way++ {
				for die := uint32(0); die < p.Die; die++ {
					for plane := uint32(0); plane < p.Plane; plane++ {
						for _, block := range []uint32{0, p.Block - 1} {
							for _, page := range []uint32{0, p.Page - 1} {
								ppn := p.Pack(channel, way, die, plane, block, page)
								gotCh, gotWay, gotDie, gotPlane, gotBlock, gotPage := p.Unpack(ppn)
								if gotCh != channel || gotWay != way || gotDie != die || gotPlane != plane ||
									gotBlock != block || gotPage != page {
									t.Fatalf("Unpack(Pack(%d,%d,%d,%d,%d,%d)) = (%d,%d,%d,%d,%d,%d)",
										channel, way, die, plane, block, page,
										gotCh, gotWay, gotDie, gotPlane, gotBlock, gotPage)
								}
							}
						}
					}
				}
			}
		}
	}
}

func TestPackProducesDistinctPPNs(t *testing.T) {
	p := testPowerOfTwoParam()
	seen := make(map[PPN]bool)
	for channel := uint32(0); channel < p.Channel; channel++ {
		for way := uint32(0); way < p.Way; way++ {
			for die := uint32(0); die < p.Die; die++ {
				for block := uint32(0); block < p.Block; block++ {
					for page := uint32(0); page < p.Page; page++ {
						ppn := p.Pack(channel, way, die, 0, block, page)
						if seen[ppn] {
							t.Fatalf("Pack produced duplicate PPN %d", ppn)
						}
						seen[ppn] = true
					}
				}
			}
		}
	}
}

func TestMakePPNUnpackRoundTripsThroughPSBN(t *testing.T) {
	p := testPowerOfTwoParam()

	for unitIdx := uint32(0); unitIdx < p.ParallelismUnits; unitIdx++ {
		for _, block := range []uint32{0, p.Block - 1} {
			psbn := PSBN(uint64(unitIdx)*uint64(p.Block) + uint64(block))
			for superIdx := uint32(0); superIdx < p.Superpage; superIdx++ {
				for _, page := range []uint32{0, p.Page - 1} {
					ppn := p.MakePPN(psbn, superIdx, page)
					if got := p.GetPSBNFromPPN(ppn); got != psbn {
						t.Fatalf("GetPSBNFromPPN(MakePPN(%d,%d,%d)) = %d, want %d",
							psbn, superIdx, page, got, psbn)
					}
				}
			}
		}
	}
}

func TestMakePSPNGetPSBNAndPageIndexRoundTrip(t *testing.T) {
	p := testPowerOfTwoParam()

	for i := uint64(0); i < 3 && i < p.TotalSuperblocks; i++ {
		psbn := PSBN(i)
		for _, page := range []uint32{0, p.Page - 1} {
			pspn := p.MakePSPN(psbn, page)
			if got := p.GetPSBNFromPSPN(pspn); got != psbn {
				t.Errorf("GetPSBNFromPSPN(MakePSPN(%d,%d)) = %d, want %d", psbn, page, got, psbn)
			}
			if got := p.GetPageIndexFromPSPN(pspn); got != page {
				t.Errorf("GetPageIndexFromPSPN(MakePSPN(%d,%d)) = %d, want %d", psbn, page, got, page)
			}
		}
	}
}

func TestMakeLPNGetLSPNAndSuperpageIndexRoundTrip(t *testing.T) {
	p := testPowerOfTwoParam()

	for lspn := uint64(0); lspn < 3; lspn++ {
		for superIdx := uint32(0); superIdx < p.Superpage; superIdx++ {
			lpn := p.MakeLPN(LSPN(lspn), superIdx)
			if got := p.GetLSPNFromLPN(lpn); uint64(got) != lspn {
				t.Errorf("GetLSPNFromLPN(MakeLPN(%d,%d)) = %d, want %d", lspn, superIdx, got, lspn)
			}
			if got := p.GetSuperpageIndexFromLPN(lpn); got != superIdx {
				t.Errorf("GetSuperpageIndexFromLPN(MakeLPN(%d,%d)) = %d, want %d", lspn, superIdx, got, superIdx)
			}
		}
	}
}

func TestGetParallelismIndexFromPSBNMatchesAllocatorPartition(t *testing.T) {
	p := testPowerOfTwoParam()

	for unitIdx := uint32(0); unitIdx < p.ParallelismUnits; unitIdx++ {
		for block := uint32(0); block < p.Block; block++ {
			psbn := PSBN(uint64(unitIdx)*uint64(p.Block) + uint64(block))
			if got := p.GetParallelismIndexFromPSBN(psbn); got != unitIdx {
				t.Errorf("GetParallelismIndexFromPSBN(%d) = %d, want %d", psbn, got, unitIdx)
			}
		}
	}
}

func TestPackPanicsOnOutOfRangeDimension(t *testing.T) {
	p := testPowerOfTwoParam()

	defer func() {
		if recover() == nil {
			t.Fatalf("Pack did not panic for an out-of-range channel index")
		}
	}()
	p.Pack(p.Channel, 0, 0, 0, 0, 0)
}

func TestNewParameterPanicsWhenSuperpageDoesNotDivideParallelism(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("NewParameter did not panic for superpage not dividing parallelism")
		}
	}()
	NewParameter(2, 1, 1, 1, 4, 8, 4096, 16, 4,
		[4]Dimension{DimChannel, DimWay, DimDie, DimPlane}, 0)
}
