// Package ftl implements the page-level FTL controller of spec §4.F: host
// request admission, the read path, the write path's read-modify-write
// alignment and merge-chain bookkeeping, the foreground-GC write-stall
// list, and completion. It is the top of the module's dependency order
// (spec §2): every other package is a leaf or an aggregator this package
// wires together, never the reverse.
//
// Grounded on original_source/ftl/base/page_level_ftl.cc (read/write/
// invalidate/flush, the pendingList/writeList/rmwList/stalledRequestList
// shapes, and the write_done -> GC.triggerForeground() coupling).
package ftl

import (
	"container/list"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/gc"
	"github.com/ryogrid/ftlcore/jobmanager"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/readreclaim"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
	"github.com/ryogrid/ftlcore/wearlevel"
)

// window accumulates the host SubRequests that fall inside one
// mapping-aligned LPN range until the chunk's final slot arrives (spec
// §4.F "Write path with RMW", the pendingList).
type window struct {
	alignedBegin addr.LPN
	slots        []*request.Request
}

// writeContext is the controller's per-chunk bookkeeping once a window has
// closed: either an aligned chunk headed straight to Mapping.WriteMapping,
// or an unaligned one that first reads the slots it doesn't already have
// fresh data for (spec's ReadModifyWriteContext). next chains further
// chunks merged into this one (spec §4.F "mergeReadModifyWrite").
type writeContext struct {
	tag          uint64
	alignedBegin addr.LPN
	slots        []*request.Request
	mapReq       request.Request
	writePending bool
	counter      uint32
	next         *writeContext
}

type stats struct {
	readCount, writeCount, rmwCount uint64
}

// Stats mirrors PageLevelFTL::getStatValues' request-facing counters;
// per-subsystem stats live on each subsystem's own GetStats.
type Stats struct {
	ReadCount  uint64
	WriteCount uint64
	RMWCount   uint64
}

// Controller is the page-level FTL controller (spec §4.F). New builds it
// over already-constructed leaves and background jobs; Bootstrap
// constructs those in init order (spec §9): leaves first, jobs that borrow
// them next, the controller last. The one back-pointer is GC's: it holds
// the controller as its gc.Host (set through gc.GC.SetHost) to restart
// stalled writes.
type Controller struct {
	param   *addr.Parameter
	mapping *mapping.Mapping
	fil     fil.FIL
	engine  simtime.Engine

	gc          *gc.GC
	jobManager  *jobmanager.JobManager
	wearLevel   *wearlevel.WearLeveling
	readReclaim *readreclaim.ReadReclaim

	mergeRMW bool

	requestQueue map[uint64]*request.Request

	windows map[addr.LPN]*window
	rmwList map[addr.LPN]*writeContext
	// writeList is the FIFO of aligned writes waiting on WriteMapping to
	// complete (spec's writeList); kept for parity with the reference's
	// bookkeeping even though nothing in this port drains it explicitly.
	writeList *list.List

	stalledRequestList *list.List

	stat stats
}

// Config bundles the already-constructed leaves and background jobs a
// Controller is wired on top of; New does not construct any of these
// itself so a host can choose its own GC mode, victim policy, and stub
// implementations.
type Config struct {
	Param       *addr.Parameter
	Mapping     *mapping.Mapping
	FIL         fil.FIL
	Engine      simtime.Engine
	GC          *gc.GC
	JobManager  *jobmanager.JobManager
	WearLevel   *wearlevel.WearLeveling
	ReadReclaim *readreclaim.ReadReclaim
	// MergeReadModifyWrite enables folding a second unaligned write to the
	// same aligned window into the in-flight RMW context instead of
	// issuing a second round of NAND I/O (spec §4.F).
	MergeReadModifyWrite bool
}

// New builds a Controller over an already-wired Config. See Bootstrap for
// a convenience constructor that also builds the leaves and jobs.
func New(cfg Config) *Controller {
	return &Controller{
		param:              cfg.Param,
		mapping:            cfg.Mapping,
		fil:                cfg.FIL,
		engine:             cfg.Engine,
		gc:                 cfg.GC,
		jobManager:         cfg.JobManager,
		wearLevel:          cfg.WearLevel,
		readReclaim:        cfg.ReadReclaim,
		mergeRMW:           cfg.MergeReadModifyWrite,
		requestQueue:       make(map[uint64]*request.Request),
		windows:            make(map[addr.LPN]*window),
		rmwList:            make(map[addr.LPN]*writeContext),
		writeList:          list.New(),
		stalledRequestList: list.New(),
	}
}

// Stats reports the controller's own request-facing counters.
func (c *Controller) Stats() Stats {
	return Stats{ReadCount: c.stat.readCount, WriteCount: c.stat.writeCount, RMWCount: c.stat.rmwCount}
}

func (c *Controller) completeRequest(req *request.Request) {
	delete(c.requestQueue, req.Tag)
	if req.Event != nil {
		req.Event(req.Tag, req.Data)
	}
}

// Read is the read-admission path (spec §4.F "Admission"): it records the
// arrival with GC for idle/penalty accounting, then asks Mapping to
// resolve req.LPN.
func (c *Controller) Read(req *request.Request) {
	c.requestQueue[req.Tag] = req
	c.gc.RequestArrived()
	c.jobManager.TriggerByUser(jobmanager.ReadMapping, req)

	c.mapping.ReadMapping(req, func(uint64) { c.onReadSubmit(req) })
}

// onReadSubmit is the ReadSubmit trigger point: an Unwritten response
// completes immediately without touching FIL (spec §7 "Unwritten read").
func (c *Controller) onReadSubmit(req *request.Request) {
	c.jobManager.TriggerByUser(jobmanager.ReadSubmit, req)

	if req.Response != request.Success {
		c.completeRequest(req)
		return
	}
	c.fil.Read(req.PPN, req.DRAMAddress, req.Tag, func(uint64) { c.onReadComplete(req) })
}

func (c *Controller) onReadComplete(req *request.Request) {
	c.jobManager.TriggerByUser(jobmanager.ReadComplete, req)
	if c.readReclaim != nil {
		c.readReclaim.OnReadComplete(uint64(c.engine.Now()), req.PPN)
	}
	c.stat.readCount++
	c.completeRequest(req)
}

// Invalidate clears req.LPN's mapping. Per spec §4.B/§9 and §14.1, the
// stale physical page is not synchronously erased; GC reclaims it once
// its block is chosen as a victim.
func (c *Controller) Invalidate(req *request.Request) {
	c.mapping.InvalidateMapping(req, func(uint64) { c.completeRequest(req) })
}

// Flush completes req at once with no side effects; it does not touch the
// writeList or wait for writes in flight, which complete through their own
// mapping/FIL callback chains regardless, matching PageLevelFTL::flush's
// no-op body in the source this module supplements (spec §11).
func (c *Controller) Flush(req *request.Request) {
	c.completeRequest(req)
}

// RestartStalledRequests drains the stall list while GC no longer demands
// a write stall, admitting each one in FIFO order (spec §4.F "Completion
// and GC coupling"). GC's finishCycle calls this once a foreground
// collection cycle clears.
func (c *Controller) RestartStalledRequests() {
	for c.stalledRequestList.Len() > 0 && !c.gc.CheckWriteStall() {
		e := c.stalledRequestList.Front()
		c.stalledRequestList.Remove(e)
		c.admitWrite(e.Value.(*request.Request))
	}
}

// Write is the write-admission path (spec §4.F "Admission"). It returns
// true when req was admitted into the pipeline and false when it was
// parked on the stall list, from which RestartStalledRequests admits it
// once GC clears the stall; the host does not resubmit it. Before
// deciding, it drains any stalled requests GC has since cleared room for,
// so a write arriving just as the threshold recovers doesn't queue behind
// requests that could already proceed.
func (c *Controller) Write(req *request.Request) bool {
	c.gc.RequestArrived()
	c.jobManager.TriggerByUser(jobmanager.WriteMapping, req)

	c.RestartStalledRequests()

	if c.stalledRequestList.Len() > 0 || c.gc.CheckWriteStall() {
		c.stalledRequestList.PushBack(req)
		return false
	}

	c.admitWrite(req)
	return true
}
