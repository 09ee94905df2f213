package copypipeline

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// fakeMapping hands out strictly increasing PPNs and completes one tick
// later through the engine, just enough to drive Pipeline.Start's protocol.
type fakeMapping struct {
	engine simtime.Engine
	next   uint64
	calls  int
}

func (f *fakeMapping) WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy) {
	f.calls++
	req.PPN = addr.PPN(f.next)
	f.next += 4 // leave room for Superpage dies per call in these tests
	req.Response = request.Success
	ev := f.engine.CreateEvent(func(now simtime.Tick, data uint64) { completion(req.Tag) }, "fakeMapping.write")
	f.engine.Schedule(ev, 1, req.Tag)
}

func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(2, 1, 1, 1, 4, 8, 4096, 16, 1,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func TestPipelineRelocatesAndErasesBlock(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 100}

	pl := New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	victim := addr.PSBN(0)
	// Seed the spare area for the two valid pages this victim will relocate.
	for _, pageIdx := range []uint32{0, 2} {
		ppn := param.MakePPN(victim, 0, pageIdx)
		f.WriteSpare(ppn, fil.EncodeLPNSpare(addr.LPN(pageIdx)))
	}

	ctx := &request.CopyContext{
		BlockID: victim,
		Copy: []request.CopyEntry{
			{PageIdx: 0},
			{PageIdx: 2},
		},
	}

	done := false
	var doneBlock addr.PSBN
	pl.Start(ctx, func(psbn addr.PSBN) {
		done = true
		doneBlock = psbn
	})

	for engine.Step() {
	}

	if !done {
		t.Fatalf("Pipeline did not complete")
	}
	if doneBlock != victim {
		t.Errorf("onDone block = %v, want %v", doneBlock, victim)
	}
	if mp.calls != len(ctx.Copy) {
		t.Errorf("WriteMapping called %d times, want %d", mp.calls, len(ctx.Copy))
	}
	if ctx.PageReadIndex != uint32(len(ctx.Copy)) {
		t.Errorf("PageReadIndex = %d, want %d", ctx.PageReadIndex, len(ctx.Copy))
	}
	if ctx.PageWriteIndex != uint32(len(ctx.Copy)) {
		t.Errorf("PageWriteIndex = %d, want %d", ctx.PageWriteIndex, len(ctx.Copy))
	}
}

func TestPipelineEmptyBlockErasesImmediately(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 100}
	pl := New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	ctx := &request.CopyContext{BlockID: addr.PSBN(1)}
	done := false
	pl.Start(ctx, func(addr.PSBN) { done = true })

	for engine.Step() {
	}

	if !done {
		t.Fatalf("empty-block session never completed")
	}
	if mp.calls != 0 {
		t.Errorf("WriteMapping called for an empty copy list")
	}
}
