package mapping_test

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/allocator"
	"github.com/ryogrid/ftlcore/dram"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// testParam builds a 2-parallelism-unit Parameter with two pages per block,
// small enough that a handful of writes forces both units through at least
// one AllocateBlock seal.
func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(2, 1, 1, 1, 4, 2, 4096, 16, 1,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func newWiredMapping(t *testing.T) (*mapping.Mapping, *allocator.Allocator, *simtime.SimEngine) {
	t.Helper()
	param := testParam(t)
	engine := simtime.NewSimEngine()
	memory := dram.NewStub(engine, 1<<20, 1<<20, 1)
	meta := mapping.NewMetaStore(param.TotalSuperblocks, param.Page)
	mp := mapping.New(param, meta, memory, engine)
	alloc := allocator.New(param, meta, mp, policy.LeastErased, 2, 0.05, 0.1, 1)
	mp.SetAllocator(alloc)
	return mp, alloc, engine
}

// TestWriteMappingAllocatesAcrossParallelismUnits drives enough writes
// through WriteMapping's init path (table-only, no DRAM trace) for both
// parallelism units to seal their initial block and pull a second one from
// their own free list. It exercises the exact sequence that used to panic:
// WriteMapping resolves the round-robin unit once via GetBlockAt and must
// seal the block on that same unit when it turns out to be full, not
// whichever unit the cursor has since advanced to.
func TestWriteMappingAllocatesAcrossParallelismUnits(t *testing.T) {
	mp, alloc, _ := newWiredMapping(t)

	const n = 8
	reqs := make([]*request.Request, n)
	for i := 0; i < n; i++ {
		req := &request.Request{Tag: uint64(i), LPN: addr.LPN(i)}
		reqs[i] = req
		mp.WriteMapping(req, nil, true, policy.LowestEraseCount)
		if req.Response != request.Success {
			t.Fatalf("write %d: response = %v, want Success", i, req.Response)
		}
	}

	if got := alloc.FullBlockCount(); got != 2 {
		t.Fatalf("FullBlockCount() = %d, want 2 (one seal per parallelism unit)", got)
	}

	for i, req := range reqs {
		readReq := &request.Request{Tag: uint64(100 + i), LPN: req.LPN}
		mp.ReadMapping(readReq, func(uint64) {})
		if readReq.Response != request.Success {
			t.Errorf("read back LPN %d: response = %v, want Success", req.LPN, readReq.Response)
		}
		if readReq.PPN != req.PPN {
			t.Errorf("read back LPN %d: PPN = %d, want %d", req.LPN, readReq.PPN, req.PPN)
		}
	}
}

// TestWriteMappingPPNsAreDistinct checks that no two of the writes above
// were assigned the same physical page, across both parallelism units.
func TestWriteMappingPPNsAreDistinct(t *testing.T) {
	mp, _, _ := newWiredMapping(t)

	const n = 8
	seen := make(map[addr.PPN]bool)
	for i := 0; i < n; i++ {
		req := &request.Request{Tag: uint64(i), LPN: addr.LPN(i)}
		mp.WriteMapping(req, nil, true, policy.LowestEraseCount)
		if seen[req.PPN] {
			t.Fatalf("write %d reused PPN %d", i, req.PPN)
		}
		seen[req.PPN] = true
	}
}

// TestReadMappingUnwrittenLPN checks that an LPN nothing has written to
// resolves as Unwritten with an invalid PPN.
func TestReadMappingUnwrittenLPN(t *testing.T) {
	mp, _, _ := newWiredMapping(t)

	req := &request.Request{Tag: 1, LPN: 0}
	mp.ReadMapping(req, func(uint64) {})
	if req.Response != request.Unwritten {
		t.Fatalf("ReadMapping on untouched LPN: response = %v, want Unwritten", req.Response)
	}
	if req.PPN != addr.InvalidPPN {
		t.Fatalf("ReadMapping on untouched LPN: PPN = %d, want InvalidPPN", req.PPN)
	}
}

// TestWriteMappingOverwriteInvalidatesOldPage checks that rewriting an LPN
// clears the old physical page's valid bit once its new mapping lands.
func TestWriteMappingOverwriteInvalidatesOldPage(t *testing.T) {
	mp, _, _ := newWiredMapping(t)

	first := &request.Request{Tag: 1, LPN: 5}
	mp.WriteMapping(first, nil, true, policy.LowestEraseCount)

	second := &request.Request{Tag: 2, LPN: 5}
	mp.WriteMapping(second, nil, true, policy.LowestEraseCount)

	if second.PPN == first.PPN {
		t.Fatalf("rewriting LPN 5 kept the same PPN")
	}
	param := mp.Parameter()
	_, _, _, _, _, oldPage := param.Unpack(first.PPN)
	if mp.Meta().Get(param.GetPSBNFromPPN(first.PPN)).ValidPages.Test(oldPage) {
		t.Fatalf("old page of LPN 5 is still marked valid after the overwrite")
	}

	readReq := &request.Request{Tag: 3, LPN: 5}
	mp.ReadMapping(readReq, func(uint64) {})
	if readReq.PPN != second.PPN {
		t.Fatalf("ReadMapping after overwrite = %d, want the latest write's PPN %d", readReq.PPN, second.PPN)
	}
}

// TestWriteMappingAsyncCompletesThroughDRAMTrace drives one non-init write
// and read through the DRAM memory-access trace and the SimEngine, the path
// a live host request actually takes.
func TestWriteMappingAsyncCompletesThroughDRAMTrace(t *testing.T) {
	mp, _, engine := newWiredMapping(t)

	writeDone := false
	req := &request.Request{Tag: 1, LPN: 0}
	mp.WriteMapping(req, func(uint64) { writeDone = true }, false, policy.LowestEraseCount)

	for i := 0; i < 1000 && !writeDone; i++ {
		if !engine.Step() {
			t.Fatalf("engine ran dry before write completed")
		}
	}
	if !writeDone {
		t.Fatalf("write did not complete within the iteration cap")
	}

	readDone := false
	readReq := &request.Request{Tag: 2, LPN: 0}
	mp.ReadMapping(readReq, func(uint64) { readDone = true })
	for i := 0; i < 1000 && !readDone; i++ {
		if !engine.Step() {
			t.Fatalf("engine ran dry before read completed")
		}
	}
	if !readDone {
		t.Fatalf("read did not complete within the iteration cap")
	}
	if readReq.Response != request.Success || readReq.PPN != req.PPN {
		t.Fatalf("async read = (%v, %d), want (Success, %d)", readReq.Response, readReq.PPN, req.PPN)
	}
}
