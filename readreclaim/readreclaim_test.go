package readreclaim

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// fakeAllocator hands back a fixed copy list for whichever psbn is asked
// for by ID and tracks reclaims.
type fakeAllocator struct {
	copyLists map[addr.PSBN][]request.CopyEntry
	reclaimed []addr.PSBN
}

func (a *fakeAllocator) GetVictimBlockByID(ctx *request.CopyContext, psbn addr.PSBN) {
	ctx.BlockID = psbn
	ctx.Copy = a.copyLists[psbn]
}
func (a *fakeAllocator) ReclaimBlocks(psbn addr.PSBN) { a.reclaimed = append(a.reclaimed, psbn) }

type fakeMapping struct {
	engine simtime.Engine
	next   uint64
}

func (f *fakeMapping) WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy) {
	req.PPN = addr.PPN(f.next)
	f.next += 4
	ev := f.engine.CreateEvent(func(now simtime.Tick, data uint64) { completion(req.Tag) }, "readreclaim.test.write")
	f.engine.Schedule(ev, 1, req.Tag)
}

func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(2, 1, 1, 1, 4, 8, 4096, 16, 1,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func TestOnReadCompleteIgnoresHealthyBlock(t *testing.T) {
	param := testParam(t)
	meta := mapping.NewMetaStore(param.TotalSuperblocks, param.Page)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)
	alloc := &fakeAllocator{copyLists: map[addr.PSBN][]request.CopyEntry{}}

	rr := New(param, meta, alloc, pl, 1)

	// A freshly erased, never-read block has near-zero RBER: essentially
	// never flags at the page sizes used here.
	ppn := param.MakePPN(addr.PSBN(0), 0, 0)
	flagged := rr.OnReadComplete(0, ppn)
	if flagged {
		t.Errorf("OnReadComplete flagged a healthy block")
	}
	if rr.State() != Idle {
		t.Errorf("state = %v, want Idle", rr.State())
	}
}

func TestOnReadCompleteReclaimsWornBlock(t *testing.T) {
	param := testParam(t)
	meta := mapping.NewMetaStore(param.TotalSuperblocks, param.Page)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	victim := addr.PSBN(0)
	for _, pageIdx := range []uint32{0, 1} {
		ppn := param.MakePPN(victim, 0, pageIdx)
		f.WriteSpare(ppn, fil.EncodeLPNSpare(addr.LPN(pageIdx)))
	}
	alloc := &fakeAllocator{copyLists: map[addr.PSBN][]request.CopyEntry{
		victim: {{PageIdx: 0}, {PageIdx: 1}},
	}}

	rr := New(param, meta, alloc, pl, 1)

	// Heavily worn, old and heavily read: 10000 erase cycles, 100 days and
	// 1e6 reads give an rber of about 0.028, about 114 expected bit errors
	// over 4096 trials, far above the threshold of 50.
	bm := meta.Get(victim)
	bm.ErasedCount = 10000
	bm.InsertedAt = 0
	bm.ReadCountAfterErase = 1000000

	ppn := param.MakePPN(victim, 0, 0)
	flagged := rr.OnReadComplete(100 * ticksPerDay, ppn)
	if !flagged {
		t.Fatalf("OnReadComplete did not flag a heavily worn block")
	}
	if rr.State() != Foreground {
		t.Fatalf("state = %v, want Foreground", rr.State())
	}

	for engine.Step() {
	}

	if rr.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", rr.State())
	}
	if len(alloc.reclaimed) != 1 || alloc.reclaimed[0] != victim {
		t.Errorf("reclaimed = %v, want [%v]", alloc.reclaimed, victim)
	}
	stats := rr.GetStats()
	if stats.Foreground != 1 || stats.ErasedBlocks != 1 {
		t.Errorf("stats = %+v, want Foreground=1 ErasedBlocks=1", stats)
	}
}

func TestOnReadCompleteQueuesSecondTargetWhileBusy(t *testing.T) {
	param := testParam(t)
	meta := mapping.NewMetaStore(param.TotalSuperblocks, param.Page)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	first, second := addr.PSBN(0), addr.PSBN(1)
	alloc := &fakeAllocator{copyLists: map[addr.PSBN][]request.CopyEntry{
		first:  nil,
		second: nil,
	}}
	rr := New(param, meta, alloc, pl, 1)

	for _, psbn := range []addr.PSBN{first, second} {
		bm := meta.Get(psbn)
		bm.ErasedCount = 10000
		bm.InsertedAt = 0
		bm.ReadCountAfterErase = 1000000
	}

	rr.OnReadComplete(100*ticksPerDay, param.MakePPN(first, 0, 0))
	if rr.State() != Foreground {
		t.Fatalf("state after first flag = %v, want Foreground", rr.State())
	}

	rr.OnReadComplete(100*ticksPerDay, param.MakePPN(second, 0, 0))
	if rr.pendingList.Len() != 1 {
		t.Fatalf("pendingList length = %d, want 1", rr.pendingList.Len())
	}

	for engine.Step() {
	}

	if len(alloc.reclaimed) != 2 {
		t.Errorf("reclaimed %d blocks, want 2", len(alloc.reclaimed))
	}
	if rr.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", rr.State())
	}
}
