package ftl

import (
	"testing"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/gc"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// testParam builds an 8-way-parallel, 4-superpage Parameter, giving 2
// parallelism units so tests drive ftl.Bootstrap's round-robin allocation
// path across more than one unit, not just unit 0.
func testParam(t *testing.T) *addr.Parameter {
	t.Helper()
	return addr.NewParameter(4, 2, 1, 1, 8, 16, 4096, 16, 4,
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane}, 0)
}

func newTestController(t *testing.T, merge bool) (*Controller, *simtime.SimEngine) {
	t.Helper()
	param := testParam(t)
	c, engine := Bootstrap(BootstrapConfig{
		Param:                   param,
		ReadLatency:             10,
		ProgramLatency:          20,
		EraseLatency:            30,
		MemoryAccessLatency:     1,
		DRAMBytes:               1 << 20,
		SRAMBytes:               1 << 20,
		GCMode:                  gc.Naive,
		GCIdleTime:              1000,
		ForegroundGCThreshold:   0.02,
		BackgroundGCThreshold:   0.1,
		VictimSelection:         policy.Greedy,
		DChoiceFanout:           2,
		WearLevelThreshold:      0.5,
		EnableWearLevel:         false,
		EnableReadReclaim:       false,
		JobManagerIdleThreshold: 100,
		MergeReadModifyWrite:    merge,
		Seed:                    1,
	})
	return c, engine
}

// runUntilDone steps the engine until cb reports completion or an iteration
// cap is hit, the same pattern pipeline_test.go uses to drive a SimEngine
// without a wall-clock deadline.
func runUntilDone(t *testing.T, engine *simtime.SimEngine, done *bool) {
	t.Helper()
	for i := 0; i < 100000 && !*done; i++ {
		if !engine.Step() {
			t.Fatalf("engine ran dry before completion")
		}
	}
	if !*done {
		t.Fatalf("request did not complete within the iteration cap")
	}
}

func TestColdReadIsUnwritten(t *testing.T) {
	c, engine := newTestController(t, true)

	var gotResponse request.Response
	done := false
	req := &request.Request{
		Tag: 1, Opcode: request.Read,
		LPN: 0, SLPN: 0, NLP: 1,
		Offset: 0, Length: 4096,
		Event: func(uint64, uint64) { done = true },
	}
	c.Read(req)
	runUntilDone(t, engine, &done)
	gotResponse = req.Response

	if gotResponse != request.Unwritten {
		t.Fatalf("cold read: want Unwritten, got %v", gotResponse)
	}
}

func TestAlignedWriteThenRead(t *testing.T) {
	c, engine := newTestController(t, true)
	param := testParam(t)

	lspn := addr.LSPN(0)
	writeDone := 0
	allDone := false
	for i := uint32(0); i < param.Superpage; i++ {
		lpn := param.MakeLPN(lspn, i)
		req := &request.Request{
			Tag: uint64(i + 1), Opcode: request.Write,
			LPN: lpn, SLPN: param.MakeLPN(lspn, 0), NLP: param.Superpage,
			Offset: 0, Length: param.PageSize,
			Event: func(uint64, uint64) {
				writeDone++
				if writeDone == int(param.Superpage) {
					allDone = true
				}
			},
		}
		if !c.Write(req) {
			t.Fatalf("write for LPN %d unexpectedly stalled", lpn)
		}
	}
	runUntilDone(t, engine, &allDone)

	var readResponse request.Response
	readDone := false
	readReq := &request.Request{
		Tag: 1000, Opcode: request.Read,
		LPN: param.MakeLPN(lspn, 0), SLPN: param.MakeLPN(lspn, 0), NLP: 1,
		Offset: 0, Length: param.PageSize,
		Event: func(uint64, uint64) { readDone = true },
	}
	c.Read(readReq)
	runUntilDone(t, engine, &readDone)
	readResponse = readReq.Response

	if readResponse != request.Success {
		t.Fatalf("read after aligned write: want Success, got %v", readResponse)
	}
	if c.Stats().WriteCount != 1 {
		t.Fatalf("want one aligned WriteMapping call, got %d", c.Stats().WriteCount)
	}
}

func TestUnalignedWriteTriggersRMW(t *testing.T) {
	c, engine := newTestController(t, true)
	param := testParam(t)

	lspn := addr.LSPN(1)
	writeDone := false
	req := &request.Request{
		Tag: 1, Opcode: request.Write,
		LPN: param.MakeLPN(lspn, 0), SLPN: param.MakeLPN(lspn, 0), NLP: 1,
		Offset: 0, Length: param.PageSize / 2, // partial page: forces the RMW path
		Event: func(uint64, uint64) { writeDone = true },
	}
	if !c.Write(req) {
		t.Fatalf("write unexpectedly stalled")
	}
	runUntilDone(t, engine, &writeDone)

	if c.Stats().RMWCount != 1 {
		t.Fatalf("want one RMW completion, got %d", c.Stats().RMWCount)
	}
}
