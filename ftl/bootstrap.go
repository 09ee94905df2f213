package ftl

import (
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/allocator"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/dram"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/gc"
	"github.com/ryogrid/ftlcore/jobmanager"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/readreclaim"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
	"github.com/ryogrid/ftlcore/wearlevel"
)

// BootstrapConfig is every dimension and policy choice a host picks to
// stand up one complete FTL core (spec §9 "init order"); Bootstrap wires
// the leaves in the order they depend on one another so nothing sees an
// uninitialized neighbor.
type BootstrapConfig struct {
	Param *addr.Parameter

	ReadLatency, ProgramLatency, EraseLatency simtime.Tick
	MemoryAccessLatency                       simtime.Tick
	DRAMBytes, SRAMBytes                      uint64

	GCMode                                        gc.Mode
	GCIdleTime                                    simtime.Tick
	ForegroundGCThreshold, BackgroundGCThreshold float64
	VictimSelection                               policy.VictimSelection
	DChoiceFanout                                 uint64

	WearLevelThreshold float64
	EnableWearLevel    bool

	EnableReadReclaim bool

	JobManagerIdleThreshold simtime.Tick

	MergeReadModifyWrite bool

	Seed int64
}

// wlAdapter satisfies jobmanager.Job on behalf of wearlevel.WearLeveling,
// which owns no idle timer of its own (spec §4.G "adapters"): JobManager's
// idle tick reaches it here as TriggerBackground, and the controller calls
// TriggerForeground directly after each completed write chunk.
type wlAdapter struct{ wl *wearlevel.WearLeveling }

func (a *wlAdapter) Initialize() {}
func (a *wlAdapter) IsRunning() bool { return a.wl.State() != wearlevel.Idle }
func (a *wlAdapter) TriggerByUser(jobmanager.TriggerType, *request.Request) {}
func (a *wlAdapter) TriggerByIdle(now uint64, _ uint64) { a.wl.TriggerBackground(now) }

// rrAdapter satisfies jobmanager.Job on behalf of readreclaim.ReadReclaim.
// The controller already calls ReadReclaim.OnReadComplete directly from
// onReadComplete (it needs the real simulation timestamp, which
// TriggerByUser's signature has no room for), so this adapter only
// contributes IsRunning() to JobManager's "stop at first running job" fan-
// out; it never acts on a trigger or an idle tick itself.
type rrAdapter struct{ rr *readreclaim.ReadReclaim }

func (a *rrAdapter) Initialize()                                            {}
func (a *rrAdapter) IsRunning() bool                                        { return a.rr.State() != readreclaim.Idle }
func (a *rrAdapter) TriggerByUser(jobmanager.TriggerType, *request.Request) {}
func (a *rrAdapter) TriggerByIdle(uint64, uint64)                           {}

// Bootstrap constructs a complete, ready-to-drive FTL core: DRAM/SRAM
// timing stub, FIL stub, mapping table and block metadata, allocator,
// three block-copy pipelines (one per background job, each biased toward
// the allocation strategy its job needs), GC, optional wear leveling and
// read reclaim, a JobManager wiring the reactive jobs in, and finally the
// Controller itself. Mirrors the reference's startup sequence of building
// every leaf before any job, and every job before the controller that
// drives them (spec §9).
func Bootstrap(cfg BootstrapConfig) (*Controller, *simtime.SimEngine) {
	engine := simtime.NewSimEngine()

	memory := dram.NewStub(engine, cfg.DRAMBytes, cfg.SRAMBytes, cfg.MemoryAccessLatency)
	f := fil.NewStub(engine, cfg.ReadLatency, cfg.ProgramLatency, cfg.EraseLatency)

	meta := mapping.NewMetaStore(cfg.Param.TotalSuperblocks, cfg.Param.Page)
	mp := mapping.New(cfg.Param, meta, memory, engine)

	alloc := allocator.New(cfg.Param, meta, mp, cfg.VictimSelection, cfg.DChoiceFanout,
		cfg.ForegroundGCThreshold, cfg.BackgroundGCThreshold, cfg.Seed)
	mp.SetAllocator(alloc)

	bufferSize := uint64(cfg.Param.Superpage) * uint64(cfg.Param.Page) * uint64(cfg.Param.PageSize)

	gcBufferBase, err := memory.Allocate(bufferSize, dram.SRAM, "gc.buffer", false)
	if err != nil {
		panic(err)
	}
	gcPipeline := copypipeline.New(cfg.Param, engine, f, f, mp, gcBufferBase, policy.LowestEraseCount)
	gcCore := gc.New(cfg.GCMode, alloc, nil, gcPipeline, engine, cfg.GCIdleTime)

	jobManager := jobmanager.New(engine, cfg.JobManagerIdleThreshold)

	var wl *wearlevel.WearLeveling
	if cfg.EnableWearLevel {
		wlBufferBase, err := memory.Allocate(bufferSize, dram.SRAM, "wearlevel.buffer", false)
		if err != nil {
			panic(err)
		}
		wlPipeline := copypipeline.New(cfg.Param, engine, f, f, mp, wlBufferBase, policy.HighestEraseCount)
		wl = wearlevel.New(alloc, wlPipeline, engine, cfg.WearLevelThreshold)
		jobManager.AddBackgroundJob(&wlAdapter{wl: wl})
	}

	var rr *readreclaim.ReadReclaim
	if cfg.EnableReadReclaim {
		rrBufferBase, err := memory.Allocate(bufferSize, dram.SRAM, "readreclaim.buffer", false)
		if err != nil {
			panic(err)
		}
		rrPipeline := copypipeline.New(cfg.Param, engine, f, f, mp, rrBufferBase, policy.LowestEraseCount)
		rr = readreclaim.New(cfg.Param, meta, alloc, rrPipeline, cfg.Seed)
		jobManager.AddBackgroundJob(&rrAdapter{rr: rr})
	}

	controller := New(Config{
		Param:                cfg.Param,
		Mapping:              mp,
		FIL:                  f,
		Engine:               engine,
		GC:                   gcCore,
		JobManager:           jobManager,
		WearLevel:            wl,
		ReadReclaim:          rr,
		MergeReadModifyWrite: cfg.MergeReadModifyWrite,
	})

	gcCore.SetHost(controller)

	return controller, engine
}
