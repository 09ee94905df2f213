// Package wearlevel implements static wear leveling (spec §4.E): picking
// the coldest (least-erased) full block and rewriting its valid pages onto
// the hottest free block whenever erase counts across super-blocks drift
// too far apart.
//
// Grounded on original_source/ftl/wear_leveling/static_wear_leveling.cc and
// abstract_wear_leveling.cc. The reference's triggerForeground is wired to
// a per-block erase callback event and re-enters itself from done(); this
// port exports TriggerForeground (and BlockEraseCallback) for a host to
// call directly, and its copypipeline completion closure starts the next
// victim itself while the factor stays at or below threshold. It drives
// session state through copypipeline.Pipeline instead of the
// reference's own AbstractBlockCopyJob read/translate/write state machine,
// the same reuse gc.GC already makes.
package wearlevel

import (
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// Allocator is the slice of the block allocator wear leveling calls into.
type Allocator interface {
	WearLevelingFactor() float64
	PickWearLevelingVictim(ctx *request.CopyContext)
	ReclaimBlocks(psbn addr.PSBN)
}

// State mirrors AbstractWearLeveling::State: Idle or actively copying a
// block, reached either from TriggerForeground, which BlockEraseCallback
// also calls (Foreground), or from TriggerBackground on an idle tick
// (Background).
type State uint8

const (
	Idle State = iota
	Foreground
	Background
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Foreground:
		return "Foreground"
	case Background:
		return "Background"
	default:
		return "Unknown"
	}
}

type stats struct {
	foreground, background uint64
	erasedBlocks            uint64
	copiedPages             uint64
}

// WearLeveling drives one static-wear-leveling copy session at a time,
// always rewriting the coldest full block's valid pages onto the hottest
// free block (policy.HighestEraseCount), until the factor clears threshold.
type WearLeveling struct {
	allocator Allocator
	pipeline  *copypipeline.Pipeline
	engine    simtime.Engine

	threshold float64

	state   State
	beginAt uint64

	stat stats
}

// New builds a WearLeveling. pipeline must have been constructed with
// policy.HighestEraseCount so relocated pages land on a hot block (spec
// §4.E: "moves cold data onto more-worn blocks").
func New(allocator Allocator, pipeline *copypipeline.Pipeline, engine simtime.Engine, threshold float64) *WearLeveling {
	return &WearLeveling{
		allocator: allocator,
		pipeline:  pipeline,
		engine:    engine,
		threshold: threshold,
	}
}

// TriggerForeground checks WearLevelingFactor against the configured
// threshold and, if it has drifted below and no session is already
// running, starts one (spec §4.E.1). A host calls this directly at its own
// cadence; BlockEraseCallback calls it reactively.
func (w *WearLeveling) TriggerForeground(now uint64) {
	if w.state != Idle {
		return
	}
	if w.allocator.WearLevelingFactor() > w.threshold {
		return
	}

	w.state = Foreground
	w.beginAt = now
	w.stat.foreground++
	w.runOneVictim()
}

// TriggerBackground is the same check but recorded under the Background
// counter, for a host driving wear leveling from an idle timer the way
// gc.GC's background cycle is driven, rather than from the write path.
func (w *WearLeveling) TriggerBackground(now uint64) {
	if w.state != Idle {
		return
	}
	if w.allocator.WearLevelingFactor() > w.threshold {
		return
	}

	w.state = Background
	w.beginAt = now
	w.stat.background++
	w.runOneVictim()
}

// BlockEraseCallback re-checks the threshold after any block in the system
// erases, matching StaticWearLeveling::blockEraseCallback. A host wires
// this to the allocator's ReclaimBlocks call site (or to gc.GC's own
// erase completions) for the reference's "recheck after every erase"
// cadence.
func (w *WearLeveling) BlockEraseCallback(now uint64, _ addr.PSBN) {
	w.TriggerForeground(now)
}

// State reports the current activity, mainly for tests and stats.
func (w *WearLeveling) State() State { return w.state }

func (w *WearLeveling) runOneVictim() {
	var ctx request.CopyContext
	w.allocator.PickWearLevelingVictim(&ctx)
	w.stat.copiedPages += uint64(len(ctx.Copy))
	w.pipeline.Start(&ctx, w.onSessionDone)
}

func (w *WearLeveling) onSessionDone(psbn addr.PSBN) {
	w.allocator.ReclaimBlocks(psbn)
	w.stat.erasedBlocks++

	if w.allocator.WearLevelingFactor() <= w.threshold {
		w.runOneVictim()
		return
	}

	w.state = Idle
}

// Stats mirrors StaticWearLeveling::getStatValues.
type Stats struct {
	Foreground   uint64
	Background   uint64
	ErasedBlocks uint64
	CopiedPages  uint64
}

func (w *WearLeveling) GetStats() Stats {
	return Stats{
		Foreground:   w.stat.foreground,
		Background:   w.stat.background,
		ErasedBlocks: w.stat.erasedBlocks,
		CopiedPages:  w.stat.copiedPages,
	}
}
