package ftl

import (
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/fil"
	"github.com/ryogrid/ftlcore/jobmanager"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
)

// admitWrite collects req into its mapping-aligned window and, once the
// window's final slot arrives, either commits it straight to Mapping (the
// aligned case) or opens a read-modify-write context (spec §4.F).
func (c *Controller) admitWrite(req *request.Request) {
	c.requestQueue[req.Tag] = req

	minSize, _ := c.mapping.GetMappingSize()
	alignedBegin := addr.LPN((uint64(req.LPN) / uint64(minSize)) * uint64(minSize))
	alignedEnd := alignedBegin + addr.LPN(minSize)

	w := c.windows[alignedBegin]
	if w == nil {
		w = &window{alignedBegin: alignedBegin, slots: make([]*request.Request, minSize)}
		c.windows[alignedBegin] = w
	}
	w.slots[uint32(req.LPN-alignedBegin)] = req

	chunkEnd := alignedEnd
	if end := req.SLPN + addr.LPN(req.NLP); end < alignedEnd {
		chunkEnd = end
	}
	if req.LPN+1 != chunkEnd {
		return
	}

	delete(c.windows, alignedBegin)
	c.commitWindow(w)
}

// commitWindow decides whether the closed window is aligned (every slot
// present, no partial first/last page) or needs a read-modify-write.
func (c *Controller) commitWindow(w *window) {
	frontIdx, backIdx := -1, -1
	var front, back *request.Request
	complete := true
	for i, r := range w.slots {
		if r == nil {
			complete = false
			continue
		}
		if frontIdx == -1 {
			frontIdx = i
			front = r
		}
		backIdx = i
		back = r
	}
	if front == nil {
		panic("ftl: commitWindow: closed window with no requests")
	}

	aligned := complete && frontIdx == 0 && backIdx == len(w.slots)-1 &&
		front.Offset == 0 && back.Length == c.param.PageSize

	if aligned {
		c.writeDirect(w)
		return
	}

	skipFront := front.Offset
	skipEnd := c.param.PageSize - back.Length
	c.beginRMW(w, skipFront, skipEnd)
}

// writeDirect handles a chunk whose host writes already cover the whole
// mapping unit with no partial pages: straight to Mapping.WriteMapping,
// no read phase (spec §4.F "Aligned").
func (c *Controller) writeDirect(w *window) {
	front := w.slots[0]
	ctx := &writeContext{tag: front.Tag, alignedBegin: w.alignedBegin, slots: w.slots}
	ctx.mapReq = request.Request{Tag: front.Tag, LPN: w.alignedBegin}

	c.writeList.PushBack(ctx)
	c.stat.writeCount++

	c.jobManager.TriggerByUser(jobmanager.WriteSubmit, front)
	c.mapping.WriteMapping(&ctx.mapReq, func(uint64) { c.onWriteMappingDone(ctx) }, false, policy.LowestEraseCount)
}

// beginRMW opens a read-modify-write context for an unaligned chunk,
// merging it into an already in-flight context for the same aligned
// window when MergeReadModifyWrite is enabled and one exists that hasn't
// started programming yet (spec §4.F "mergeReadModifyWrite").
func (c *Controller) beginRMW(w *window, skipFront, skipEnd uint32) {
	_ = skipFront
	_ = skipEnd

	if c.mergeRMW {
		if existing, ok := c.rmwList[w.alignedBegin]; ok && !existing.writePending {
			c.mergeIntoChain(existing, w)
			return
		}
	}

	var representative *request.Request
	for _, r := range w.slots {
		if r != nil {
			representative = r
			break
		}
	}

	ctx := &writeContext{tag: representative.Tag, alignedBegin: w.alignedBegin, slots: w.slots}
	ctx.mapReq = request.Request{Tag: representative.Tag, LPN: w.alignedBegin}
	c.rmwList[w.alignedBegin] = ctx
	c.stat.rmwCount++

	c.mapping.ReadMapping(&ctx.mapReq, func(uint64) { c.onRMWReadSubmit(ctx) })
}

// mergeIntoChain folds a freshly closed window into an in-flight RMW
// context: requests for slots the context still lacks move into its slots,
// and the rest (slots the context already holds) go on a node appended to
// its merge chain, so finishWriteChunk completes each request exactly once.
// Bookkeeping only, no extra NAND I/O, matching the reference's
// "next/last" singly-linked merge.
func (c *Controller) mergeIntoChain(existing *writeContext, w *window) {
	tail := existing
	for tail.next != nil {
		tail = tail.next
	}
	var representative *request.Request
	nodeSlots := make([]*request.Request, len(w.slots))
	for i, r := range w.slots {
		if r == nil {
			continue
		}
		if representative == nil {
			representative = r
		}
		if existing.slots[i] == nil {
			existing.slots[i] = r
		} else {
			nodeSlots[i] = r
		}
	}
	node := &writeContext{tag: representative.Tag, alignedBegin: w.alignedBegin, slots: nodeSlots}
	tail.next = node
}

// onRMWReadSubmit is the RMW readSubmit phase: issue one FIL read per slot
// that needs merging (missing, or a partial page) when the existing entry
// was valid; an Unwritten read-mapping result is treated as all-zero data
// with no NAND reads at all (spec §7 "RMW merge partial").
func (c *Controller) onRMWReadSubmit(ctx *writeContext) {
	if ctx.mapReq.Response != request.Success {
		c.onRMWReadDone(ctx)
		return
	}

	psbn := c.param.GetPSBNFromPPN(ctx.mapReq.PPN)
	_, _, _, _, _, pageIdx := c.param.Unpack(ctx.mapReq.PPN)

	var needed []uint32
	for i, r := range ctx.slots {
		if r == nil || r.Offset != 0 || r.Length != c.param.PageSize {
			needed = append(needed, uint32(i))
		}
	}
	if len(needed) == 0 {
		c.onRMWReadDone(ctx)
		return
	}

	ctx.counter = uint32(len(needed))
	for _, slotIdx := range needed {
		ppn := c.param.MakePPN(psbn, slotIdx, pageIdx)
		c.fil.Read(ppn, 0, ctx.tag, func(uint64) { c.onRMWReadSlotDone(ctx) })
	}
}

func (c *Controller) onRMWReadSlotDone(ctx *writeContext) {
	ctx.counter--
	if ctx.counter == 0 {
		c.onRMWReadDone(ctx)
	}
}

func (c *Controller) onRMWReadDone(ctx *writeContext) {
	c.mapping.WriteMapping(&ctx.mapReq, func(uint64) { c.onWriteMappingDone(ctx) }, false, policy.LowestEraseCount)
}

// onWriteMappingDone is the common writeSubmit phase for both aligned and
// RMW chunks: program every die of the newly assigned super-page,
// recording each one's LPN in its spare area so a later block-copy
// session can resolve it on relocation (spec §4.D step 2's "spare area
// decode").
func (c *Controller) onWriteMappingDone(ctx *writeContext) {
	ctx.writePending = true

	minSize, _ := c.mapping.GetMappingSize()
	psbn := c.param.GetPSBNFromPPN(ctx.mapReq.PPN)
	_, _, _, _, _, pageIdx := c.param.Unpack(ctx.mapReq.PPN)

	ctx.counter = minSize
	for i := uint32(0); i < minSize; i++ {
		ppn := c.param.MakePPN(psbn, i, pageIdx)
		lpn := c.param.MakeLPN(c.param.GetLSPNFromLPN(ctx.alignedBegin), i)
		c.fil.WriteSpare(ppn, fil.EncodeLPNSpare(lpn))
		c.fil.Program(ppn, 0, ctx.tag, func(uint64) { c.onWriteProgramSlotDone(ctx) })
	}
}

func (c *Controller) onWriteProgramSlotDone(ctx *writeContext) {
	ctx.counter--
	if ctx.counter != 0 {
		return
	}
	c.finishWriteChunk(ctx)
}

// finishWriteChunk completes every host SubRequest in ctx and in every
// node merged into its chain (spec §4.F "writeDone"), then triggers GC's
// write-admission threshold check now that the write's cost has been
// paid (spec "Completion and GC coupling").
func (c *Controller) finishWriteChunk(ctx *writeContext) {
	for node := ctx; node != nil; node = node.next {
		for _, r := range node.slots {
			if r == nil {
				continue
			}
			c.jobManager.TriggerByUser(jobmanager.WriteComplete, r)
			c.completeRequest(r)
		}
	}

	delete(c.rmwList, ctx.alignedBegin)

	now := uint64(c.engine.Now())
	c.gc.TriggerForeground()
	if c.wearLevel != nil {
		c.wearLevel.TriggerForeground(now)
	}
}
