package wearlevel

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// fakeAllocator hands out victims from a fixed queue and reports a
// caller-settable wear leveling factor so tests can drive the threshold
// check directly.
type fakeAllocator struct {
	factor    float64
	victims   []addr.PSBN
	reclaimed []addr.PSBN
}

func (a *fakeAllocator) WearLevelingFactor() float64 { return a.factor }
func (a *fakeAllocator) PickWearLevelingVictim(ctx *request.CopyContext) {
	ctx.BlockID = a.victims[0]
	a.victims = a.victims[1:]
	if len(a.victims) == 0 {
		// Draining the queue clears the skew the same way reclaiming the
		// last victim would raise the factor back above threshold.
		a.factor = 1
	}
}
func (a *fakeAllocator) ReclaimBlocks(psbn addr.PSBN) { a.reclaimed = append(a.reclaimed, psbn) }

type fakeMapping struct {
	engine simtime.Engine
	next   uint64
}

func (f *fakeMapping) WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy) {
	if strategy != policy.HighestEraseCount {
		panic("wearlevel: expected HighestEraseCount allocation strategy")
	}
	req.PPN = addr.PPN(f.next)
	f.next += 4
	ev := f.engine.CreateEvent(func(now simtime.Tick, data uint64) { completion(req.Tag) }, "wearlevel.test.write")
	f.engine.Schedule(ev, 1, req.Tag)
}

func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(2, 1, 1, 1, 4, 8, 4096, 16, 1,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func TestTriggerForegroundNoopAboveThreshold(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.HighestEraseCount)

	alloc := &fakeAllocator{factor: 0.99}
	w := New(alloc, pl, engine, 0.9)

	w.TriggerForeground(0)

	if w.State() != Idle {
		t.Errorf("state = %v, want Idle when factor above threshold", w.State())
	}
	if len(alloc.reclaimed) != 0 {
		t.Errorf("reclaimed %d blocks, want 0", len(alloc.reclaimed))
	}
}

func TestTriggerForegroundDrainsUntilFactorClears(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.HighestEraseCount)

	alloc := &fakeAllocator{factor: 0.5, victims: []addr.PSBN{0, 1}}
	w := New(alloc, pl, engine, 0.9)

	w.TriggerForeground(0)
	for engine.Step() {
	}

	if w.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", w.State())
	}
	if len(alloc.reclaimed) != 2 {
		t.Errorf("reclaimed %d blocks, want 2", len(alloc.reclaimed))
	}
	stats := w.GetStats()
	if stats.Foreground != 1 || stats.ErasedBlocks != 2 {
		t.Errorf("stats = %+v, want Foreground=1 ErasedBlocks=2", stats)
	}
}

func TestBlockEraseCallbackTriggersForeground(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.HighestEraseCount)

	alloc := &fakeAllocator{factor: 0.5, victims: []addr.PSBN{2}}
	w := New(alloc, pl, engine, 0.9)

	w.BlockEraseCallback(0, addr.PSBN(9))
	for engine.Step() {
	}

	if w.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", w.State())
	}
	if len(alloc.reclaimed) != 1 || alloc.reclaimed[0] != addr.PSBN(2) {
		t.Errorf("reclaimed = %v, want [2]", alloc.reclaimed)
	}
}

func TestTriggerForegroundNoopWhileAlreadyRunning(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.HighestEraseCount)

	alloc := &fakeAllocator{factor: 0.1, victims: []addr.PSBN{3, 4, 5}}
	w := New(alloc, pl, engine, 0.9)

	w.TriggerForeground(0)
	if w.State() != Foreground {
		t.Fatalf("state after first trigger = %v, want Foreground", w.State())
	}

	before := len(alloc.victims)
	w.TriggerForeground(1)
	if len(alloc.victims) != before {
		t.Errorf("second TriggerForeground call consumed a victim while a session was running")
	}

	for engine.Step() {
	}
	if w.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", w.State())
	}
}
