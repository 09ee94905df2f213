// Package copypipeline implements the block-copy state machine shared by
// garbage collection, wear leveling, and read reclaim (spec §4.D): for one
// victim super-block at a time, read every valid page, resolve its LPN from
// the spare area, re-map it to a fresh physical page, program it there, and
// finally erase the victim once every valid page has been relocated.
//
// Grounded on original_source/ftl/gc/naive.cc's gc_doRead/gc_doTranslate/
// gc_doWrite/gc_doErase/gc_done sequence. That reference pre-registers one
// engine Event per pipeline stage and dispatches on a tag; this port instead
// chains plain Go closures the way mapping.requestMemoryAccess's step
// function already does in this module, since FIL and Memory stubs already
// own their own internal scheduling and hand back a plain completion
// callback rather than an Event identity to reschedule.
package copypipeline

import (
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// Mapping is the slice of the mapping subsystem the pipeline calls into
// once per relocated page. Declared locally to avoid importing the mapping
// package's full surface (and any future import-cycle risk).
type Mapping interface {
	WriteMapping(req *request.Request, completion func(tag uint64), init bool, strategy policy.AllocationStrategy)
}

// Pipeline runs one block-copy session at a time per distinct victim PSBN;
// concurrent sessions for different victims interleave freely since all
// state lives in each session's own *request.CopyContext.
type Pipeline struct {
	param   *addr.Parameter
	engine  simtime.Engine
	fil     fil.FIL
	decode  fil.SpareDecoder
	mapping Mapping

	bufferBase uint64
	strategy   policy.AllocationStrategy
}

// New builds a Pipeline. bufferBase is the DRAM/SRAM address a caller has
// already reserved (via dram.Memory.Allocate) to hold Superpage*Page pages'
// worth of relocation buffer.
func New(param *addr.Parameter, engine simtime.Engine, f fil.FIL, decode fil.SpareDecoder, mp Mapping, bufferBase uint64, strategy policy.AllocationStrategy) *Pipeline {
	return &Pipeline{
		param:      param,
		engine:     engine,
		fil:        f,
		decode:     decode,
		mapping:    mp,
		bufferBase: bufferBase,
		strategy:   strategy,
	}
}

func (p *Pipeline) bufferAddress(slot uint32, pageIdx uint32) uint64 {
	return p.bufferBase + (uint64(slot)*uint64(p.param.Page)+uint64(pageIdx))*uint64(p.param.PageSize)
}

// Start relocates every entry in ctx.Copy (already filled in by the
// allocator's victim selection) off of ctx.BlockID, then erases it and
// invokes onDone. A block with no valid pages completes immediately.
func (p *Pipeline) Start(ctx *request.CopyContext, onDone func(psbn addr.PSBN)) {
	ctx.PageReadIndex, ctx.PageWriteIndex = 0, 0
	ctx.ReadCounter, ctx.WriteCounter = 0, 0
	ctx.BeginAt = uint64(p.engine.Now())

	if len(ctx.Copy) == 0 {
		p.runErase(ctx, onDone)
		return
	}
	p.runRead(ctx, onDone)
}

// runRead issues one page's worth of superpage-wide reads and advances
// PageReadIndex. When the whole copy list has been issued it simply stops;
// onReadSlotDone re-enters here to pipeline the next page as soon as the
// current one's reads all complete.
func (p *Pipeline) runRead(ctx *request.CopyContext, onDone func(addr.PSBN)) {
	if ctx.PageReadIndex >= uint32(len(ctx.Copy)) {
		return
	}
	entry := &ctx.Copy[ctx.PageReadIndex]
	ctx.PageReadIndex++
	entry.BeginAt = uint64(p.engine.Now())
	ctx.ReadCounter = p.param.Superpage

	ppn0 := p.param.MakePPN(ctx.BlockID, 0, entry.PageIdx)
	for i := uint32(0); i < p.param.Superpage; i++ {
		ppn := p.param.MakePPN(ctx.BlockID, i, entry.PageIdx)
		p.fil.Read(ppn, p.bufferAddress(i, entry.PageIdx), uint64(ctx.BlockID), func(uint64) {
			p.onReadSlotDone(ctx, entry, ppn0, onDone)
		})
	}
}

func (p *Pipeline) onReadSlotDone(ctx *request.CopyContext, entry *request.CopyEntry, ppn0 addr.PPN, onDone func(addr.PSBN)) {
	ctx.ReadCounter--
	if ctx.ReadCounter != 0 {
		return
	}

	// Pipeline the next page's reads while this one translates.
	p.runRead(ctx, onDone)

	lpn, ok := p.decode.DecodeLPN(ppn0)
	if !ok {
		panic("copypipeline: no LPN recorded in spare area for a valid page")
	}
	entry.Request.LPN = lpn
	entry.Request.Tag = uint64(ctx.BlockID)

	p.mapping.WriteMapping(&entry.Request, func(uint64) {
		p.runWrite(ctx, entry, onDone)
	}, false, p.strategy)
}

func (p *Pipeline) runWrite(ctx *request.CopyContext, entry *request.CopyEntry, onDone func(addr.PSBN)) {
	ctx.PageWriteIndex++
	ctx.WriteCounter += p.param.Superpage
	entry.BeginAt = uint64(p.engine.Now())

	base := entry.Request.PPN
	for i := uint32(0); i < p.param.Superpage; i++ {
		ppn := addr.PPN(uint64(base) + uint64(i))
		p.fil.WriteSpare(ppn, fil.EncodeLPNSpare(p.param.MakeLPN(p.param.GetLSPNFromLPN(entry.Request.LPN), i)))
		p.fil.Program(ppn, p.bufferAddress(i, entry.PageIdx), uint64(ctx.BlockID), func(uint64) {
			p.onWriteSlotDone(ctx, onDone)
		})
	}
}

func (p *Pipeline) onWriteSlotDone(ctx *request.CopyContext, onDone func(addr.PSBN)) {
	ctx.WriteCounter--
	if ctx.WriteCounter == 0 && ctx.PageWriteIndex == uint32(len(ctx.Copy)) {
		p.runErase(ctx, onDone)
	}
}

func (p *Pipeline) runErase(ctx *request.CopyContext, onDone func(addr.PSBN)) {
	ctx.WriteCounter = p.param.Superpage
	for i := uint32(0); i < p.param.Superpage; i++ {
		ppn := p.param.MakePPN(ctx.BlockID, i, 0)
		p.fil.Erase(ppn, uint64(ctx.BlockID), func(uint64) {
			p.onEraseSlotDone(ctx, onDone)
		})
	}
}

func (p *Pipeline) onEraseSlotDone(ctx *request.CopyContext, onDone func(addr.PSBN)) {
	ctx.WriteCounter--
	if ctx.WriteCounter == 0 {
		onDone(ctx.BlockID)
	}
}
