package gc

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// fakeAllocator hands out victims from a fixed queue and tracks reclaims;
// the two threshold checks are driven directly by the test.
type fakeAllocator struct {
	fgc, bgc bool
	victims  []addr.PSBN
	reclaimed []addr.PSBN
}

func (a *fakeAllocator) CheckForegroundGCThreshold() bool { return a.fgc }
func (a *fakeAllocator) CheckBackgroundGCThreshold() bool { return a.bgc }
func (a *fakeAllocator) GetVictimBlocks(ctx *request.CopyContext) {
	ctx.BlockID = a.victims[0]
	a.victims = a.victims[1:]
	if len(a.victims) == 0 {
		// Last victim drains the threshold so onSessionDone stops looping.
		a.fgc, a.bgc = false, false
	}
}
func (a *fakeAllocator) ReclaimBlocks(psbn addr.PSBN) { a.reclaimed = append(a.reclaimed, psbn) }

type fakeHost struct{ restarted int }

func (h *fakeHost) RestartStalledRequests() { h.restarted++ }

type fakeMapping struct {
	engine simtime.Engine
	next   uint64
}

func (f *fakeMapping) WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy) {
	req.PPN = addr.PPN(f.next)
	f.next += 4
	ev := f.engine.CreateEvent(func(now simtime.Tick, data uint64) { completion(req.Tag) }, "gc.test.write")
	f.engine.Schedule(ev, 1, req.Tag)
}

func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(2, 1, 1, 1, 4, 8, 4096, 16, 1,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func TestForegroundGCDrainsThresholdAndRestartsStalled(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	alloc := &fakeAllocator{fgc: true, victims: []addr.PSBN{0, 1}}
	host := &fakeHost{}
	g := New(Naive, alloc, host, pl, engine, 0)

	g.TriggerForeground()
	for engine.Step() {
	}

	if g.State() != Idle {
		t.Errorf("GC state after drain = %v, want Idle", g.State())
	}
	if len(alloc.reclaimed) != 2 {
		t.Errorf("reclaimed %d blocks, want 2", len(alloc.reclaimed))
	}
	if host.restarted != 1 {
		t.Errorf("RestartStalledRequests called %d times, want 1", host.restarted)
	}
	stats := g.GetStats()
	if stats.ForegroundCount != 1 || stats.ErasedBlocks != 2 {
		t.Errorf("stats = %+v, want ForegroundCount=1 ErasedBlocks=2", stats)
	}
}

func TestTriggerForegroundNoopWhenThresholdNotMet(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	alloc := &fakeAllocator{fgc: false}
	host := &fakeHost{}
	g := New(Naive, alloc, host, pl, engine, 0)

	g.TriggerForeground()
	if g.State() != Idle {
		t.Errorf("GC state = %v, want Idle when below threshold", g.State())
	}
}

func TestBackgroundGCTriggersAfterIdleTimer(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	alloc := &fakeAllocator{bgc: true, victims: []addr.PSBN{2}}
	host := &fakeHost{}
	g := New(Advanced, alloc, host, pl, engine, 10)

	g.RequestArrived()
	for engine.Step() {
	}

	stats := g.GetStats()
	if stats.BackgroundCount != 1 {
		t.Errorf("BackgroundCount = %d, want 1", stats.BackgroundCount)
	}
	if g.State() != Idle {
		t.Errorf("state after background cycle = %v, want Idle", g.State())
	}
}

func TestPreemptiblePausesAndResumes(t *testing.T) {
	param := testParam(t)
	engine := simtime.NewSimEngine()
	f := fil.NewStub(engine, 1, 1, 1)
	mp := &fakeMapping{engine: engine, next: 1000}
	pl := copypipeline.New(param, engine, f, f, mp, 0, policy.LowestEraseCount)

	alloc := &fakeAllocator{bgc: true, victims: []addr.PSBN{3, 4}}
	host := &fakeHost{}
	g := New(Preemptible, alloc, host, pl, engine, 10)

	g.RequestArrived()
	engine.Step() // fire the idle timer, starting the background cycle
	if g.State() != Background {
		t.Fatalf("state after idle timer fired = %v, want Background", g.State())
	}

	g.Pause()
	if g.State() != Paused {
		t.Fatalf("state after Pause = %v, want Paused", g.State())
	}
	if g.CheckWriteStall() {
		t.Errorf("CheckWriteStall() = true while Paused, want false")
	}

	g.Resume()
	if g.State() != Background {
		t.Fatalf("state after Resume = %v, want Background", g.State())
	}
	for engine.Step() {
	}
	if g.State() != Idle {
		t.Errorf("state after drain = %v, want Idle", g.State())
	}
}
