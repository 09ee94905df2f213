// Package mapping implements the page-level Mapping subsystem of spec §4.B:
// the LSPN→PSPN table and per-PSBN block metadata, with a memory-access
// trace replayed through the DRAM/SRAM timing model on every call so
// completion timing reflects the real cost of touching the table.
package mapping

import (
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/dram"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// Allocator is the slice of the block allocator's API that Mapping calls
// into from writeMapping. Declared here (not imported from an allocator
// package) so Mapping and the allocator never import one another; the
// bootstrap phase wires a concrete *allocator.Allocator in.
type Allocator interface {
	GetBlockAt(parallelismIdx uint32) (addr.PSBN, uint32)
	AllocateBlock(parallelismIdx uint32, oldBlock addr.PSBN, strategy policy.AllocationStrategy) addr.PSBN
}

type memAccess struct {
	isWrite bool
	address uint64
	size    uint64
}

// Mapping owns the LSPN→PSPN table and the shared BlockMetadata store.
type Mapping struct {
	param *addr.Parameter
	meta  *MetaStore
	table *table

	memory     dram.Memory
	engine     simtime.Engine
	memoryBase uint64 // base DRAM address backing the table+metadata traces

	allocator Allocator

	pendingTag uint64
	traces     map[uint64][]memAccess
}

// New constructs the Mapping subsystem without an allocator; it must be
// set via SetAllocator before the first WriteMapping or WriteMappingLSPN
// call, init or not, since both allocate pages through it.
func New(param *addr.Parameter, meta *MetaStore, memory dram.Memory, engine simtime.Engine) *Mapping {
	width := chooseEntryWidth(param.TotalPhysicalSuperPages)
	entryCount := param.TotalLogicalPages / uint64(param.Superpage)

	base, err := memory.Allocate(entryCount*uint64(width), dram.DRAM, "mapping.table", false)
	if err != nil {
		panic(err)
	}

	return &Mapping{
		param:      param,
		meta:       meta,
		table:      newTable(entryCount, width),
		memory:     memory,
		engine:     engine,
		memoryBase: base,
		traces:     make(map[uint64][]memAccess),
	}
}

// SetAllocator wires the block allocator in after bootstrap.
func (m *Mapping) SetAllocator(a Allocator) { m.allocator = a }

func (m *Mapping) trace(tag uint64, isWrite bool, size uint64) {
	m.traces[tag] = append(m.traces[tag], memAccess{isWrite: isWrite, address: m.memoryBase, size: size})
}

// requestMemoryAccess flushes every queued memory-access trace for tag
// serially through the memory subsystem, invoking completion only once all
// of them finish — the "memory-access trace protocol" of spec §4.B.
func (m *Mapping) requestMemoryAccess(tag uint64, completion func(tag uint64)) {
	ops := m.traces[tag]
	delete(m.traces, tag)

	if len(ops) == 0 {
		completion(tag)
		return
	}

	var step func(i int)
	step = func(i int) {
		if i >= len(ops) {
			completion(tag)
			return
		}
		op := ops[i]
		cb := func(uint64) { step(i + 1) }
		if op.isWrite {
			m.memory.Write(op.address, op.size, tag, cb)
		} else {
			m.memory.Read(op.address, op.size, tag, cb)
		}
	}
	step(0)
}

// ReadMapping resolves req.LPN's physical page. On an invalid entry it sets
// req.Response=Unwritten and req.PPN=Invalid without touching BlockMetadata.
func (m *Mapping) ReadMapping(req *request.Request, completion func(tag uint64)) {
	lspn := m.param.GetLSPNFromLPN(req.LPN)
	superIdx := m.param.GetSuperpageIndexFromLPN(req.LPN)

	valid, pspn := m.table.Lookup(lspn)
	m.trace(req.Tag, false, uint64(m.table.width))

	if !valid {
		req.Response = request.Unwritten
		req.PPN = addr.InvalidPPN
		m.requestMemoryAccess(req.Tag, completion)
		return
	}

	psbn := m.param.GetPSBNFromPSPN(pspn)
	req.Response = request.Success
	req.PPN = m.param.MakePPN(psbn, superIdx, m.param.GetPageIndexFromPSPN(pspn))

	bm := m.meta.Get(psbn)
	bm.InsertedAt = uint64(m.engine.Now())
	m.trace(req.Tag, true, 2)

	m.requestMemoryAccess(req.Tag, completion)
}

// WriteMapping assigns a fresh physical page to req.LPN, allocating a new
// block from the allocator when the current in-use block for this
// parallelism unit is sealed. init suppresses memory-access traces, for
// use during warm-up filling (spec §4.D.2 of the original, "filling").
func (m *Mapping) WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy) {
	lspn := m.param.GetLSPNFromLPN(req.LPN)
	superIdx := m.param.GetSuperpageIndexFromLPN(req.LPN)

	m.writeMappingLSPN(req.Tag, lspn, superIdx, policy.AnyParallelismUnit, strategy, init)

	valid, pspn := m.table.Lookup(lspn)
	if !valid {
		panic("mapping: writeMapping: entry not valid immediately after store")
	}
	req.PPN = m.param.MakePPN(m.param.GetPSBNFromPSPN(pspn), superIdx, m.param.GetPageIndexFromPSPN(pspn))
	req.Response = request.Success

	if init {
		return
	}
	m.requestMemoryAccess(req.Tag, completion)
}

// WriteMappingLSPN is the "init" overload used during warm-up filling: it
// writes a table entry directly from an LSPN without a Request, and always
// suppresses memory traces.
func (m *Mapping) WriteMappingLSPN(lspn addr.LSPN, strategy policy.AllocationStrategy) addr.PSPN {
	m.writeMappingLSPN(0, lspn, 0, policy.AnyParallelismUnit, strategy, true)
	_, pspn := m.table.Lookup(lspn)
	return pspn
}

func (m *Mapping) writeMappingLSPN(tag uint64, lspn addr.LSPN, superIdx, parIdx uint32, strategy policy.AllocationStrategy, init bool) {
	if m.allocator == nil {
		panic("mapping: writeMapping called before SetAllocator")
	}

	if valid, oldPSPN := m.table.Lookup(lspn); valid {
		oldPSBN := m.param.GetPSBNFromPSPN(oldPSPN)
		m.meta.Get(oldPSBN).ValidPages.Clear(m.param.GetPageIndexFromPSPN(oldPSPN))
		if !init {
			m.trace(tag, true, 1)
		}
	}

	inUse, resolvedIdx := m.allocator.GetBlockAt(parIdx)
	bm := m.meta.Get(inUse)
	if bm.NextPageToWrite == m.param.Page {
		inUse = m.allocator.AllocateBlock(resolvedIdx, inUse, strategy)
		bm = m.meta.Get(inUse)
		if bm.NextPageToWrite == m.param.Page {
			panic("mapping: allocator returned a sealed block")
		}
	}

	pageIdx := bm.NextPageToWrite
	bm.ValidPages.Set(pageIdx)
	bm.NextPageToWrite++
	bm.InsertedAt = uint64(m.engine.Now())

	pspn := m.param.MakePSPN(inUse, pageIdx)
	m.table.Store(lspn, pspn)

	if !init {
		m.trace(tag, true, 4)
		m.trace(tag, true, uint64(m.table.width))
	}
}

// InvalidateMapping clears req.LPN's table entry. Per spec §4.B / §9, the
// corresponding physical page is not synchronously erased; GC reclaims it
// later when its block becomes a victim (open-question decision recorded in
// spec §14.1).
func (m *Mapping) InvalidateMapping(req *request.Request, completion func(tag uint64)) {
	lspn := m.param.GetLSPNFromLPN(req.LPN)

	if valid, pspn := m.table.Lookup(lspn); valid {
		psbn := m.param.GetPSBNFromPSPN(pspn)
		m.meta.Get(psbn).ValidPages.Clear(m.param.GetPageIndexFromPSPN(pspn))
		m.table.Invalidate(lspn)
	}

	req.PPN = addr.InvalidPPN
	req.Response = request.Unwritten
	m.requestMemoryAccess(req.Tag, completion)
}

// GetPageUsage counts valid logical pages in [slpn, slpn+nlp).
func (m *Mapping) GetPageUsage(slpn addr.LPN, nlp uint32) uint64 {
	if nlp == 0 {
		return 0
	}
	start := m.param.GetLSPNFromLPN(slpn)
	end := m.param.GetLSPNFromLPN(slpn + addr.LPN(nlp) - 1)

	var count uint64
	for l := start; l <= end; l++ {
		if valid, _ := m.table.Lookup(l); valid {
			count++
		}
	}
	return count * uint64(m.param.Superpage)
}

// GetValidPages reports the live-page count of a super-block.
func (m *Mapping) GetValidPages(psbn addr.PSBN) uint32 { return m.meta.Get(psbn).ValidPages.Count() }

// GetAge reports when a super-block was last opened.
func (m *Mapping) GetAge(psbn addr.PSBN) uint64 { return m.meta.Get(psbn).InsertedAt }

// MarkBlockErased clears a super-block's live state after a successful
// erase. It does not touch ErasedCount: that is the allocator's
// responsibility via ReclaimBlocks.
func (m *Mapping) MarkBlockErased(psbn addr.PSBN) {
	bm := m.meta.Get(psbn)
	bm.ValidPages.Reset()
	bm.NextPageToWrite = 0
	bm.InsertedAt = 0
}

// GetCopyContext scans psbn's valid-page bitmap and appends one CopyEntry
// per set bit to ctx.Copy, then invokes completion.
func (m *Mapping) GetCopyContext(ctx *request.CopyContext, completion func(tag uint64)) {
	bm := m.meta.Get(ctx.BlockID)
	for i := uint32(0); i < bm.ValidPages.Size(); i++ {
		if bm.ValidPages.Test(i) {
			ctx.Copy = append(ctx.Copy, request.CopyEntry{PageIdx: i})
		}
	}
	completion(uint64(ctx.BlockID))
}

// GetMappingSize returns the minimum and preferred mapping granularity,
// both equal to Superpage (spec §4.B).
func (m *Mapping) GetMappingSize() (min, preferred uint32) {
	return m.param.Superpage, m.param.Superpage
}

// Parameter exposes the dimension set Mapping was built with.
func (m *Mapping) Parameter() *addr.Parameter { return m.param }

// Meta exposes the shared BlockMetadata store.
func (m *Mapping) Meta() *MetaStore { return m.meta }
