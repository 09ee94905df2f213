// Package gc implements the garbage-collection subsystem of spec §4.D:
// foreground GC that stalls writes until the free-block ratio recovers,
// background GC that runs opportunistically during idle time, and a
// preemptible variant that exposes a pause hook for a host scheduler to
// drive.
//
// Grounded on original_source/ftl/gc/naive.cc (foreground-only), advanced.cc
// (adds the Idle/Foreground/Background state machine and the idle-timer
// background trigger), and preemption.cc (adds a Paused state). The three
// C++ classes form an inheritance chain (NaiveGC -> AdvancedGC ->
// PreemptibleGC) that only ever overrides a handful of methods; this port
// collapses that into one struct switched by Mode, following the same
// "closed sum type instead of an inheritance chain" translation used for
// the allocator's victim-selection hierarchy.
package gc

import (
	"math"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/copypipeline"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// noArrival is the "no request pending" sentinel for firstRequestArrival,
// mirroring std::numeric_limits<uint64_t>::max() in the reference.
const noArrival = math.MaxUint64

// Mode selects which of the three reference GC classes' behavior this GC
// exhibits.
type Mode uint8

const (
	Naive Mode = iota
	Advanced
	Preemptible
)

// State is the GC's current activity, mirrored in AdvancedGC::State.
type State uint8

const (
	Idle State = iota
	Foreground
	Background
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Foreground:
		return "Foreground"
	case Background:
		return "Background"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Allocator is the slice of the block allocator GC calls into.
type Allocator interface {
	CheckForegroundGCThreshold() bool
	CheckBackgroundGCThreshold() bool
	GetVictimBlocks(ctx *request.CopyContext)
	ReclaimBlocks(psbn addr.PSBN)
}

// Host is the slice of the FTL controller GC calls into once a foreground
// stall clears, to resume writes that were parked on the stall list.
type Host interface {
	RestartStalledRequests()
}

type stats struct {
	fgcCount, bgcCount     uint64
	gcErasedBlocks         uint64
	gcCopiedPages          uint64
	penaltyCount           uint64
	avgPenalty             uint64
	minPenalty, maxPenalty uint64
}

// GC drives one copy session at a time to completion, then either starts
// another (threshold still not met) or returns to Idle.
type GC struct {
	mode      Mode
	allocator Allocator
	host      Host
	pipeline  *copypipeline.Pipeline
	engine    simtime.Engine

	state   State
	beginAt uint64

	firstRequestArrival uint64
	idleTime            simtime.Tick
	evBackground        simtime.EventID

	stat stats
}

// New builds a GC. idleTime is unused for Mode Naive (no background GC).
func New(mode Mode, allocator Allocator, host Host, pipeline *copypipeline.Pipeline, engine simtime.Engine, idleTime simtime.Tick) *GC {
	g := &GC{
		mode:                mode,
		allocator:           allocator,
		host:                host,
		pipeline:            pipeline,
		engine:              engine,
		firstRequestArrival: noArrival,
		idleTime:            idleTime,
	}
	if mode != Naive {
		g.evBackground = engine.CreateEvent(g.triggerBackground, "gc.background")
	}
	return g
}

// SetHost wires the FTL controller in after bootstrap, the same deferred
// pattern mapping.Mapping uses for its allocator: GC is built before the
// controller that depends on it, so its Host back-reference can't be
// supplied at construction time.
func (g *GC) SetHost(host Host) { g.host = host }

// TriggerForeground starts a foreground collection cycle if the free-block
// ratio has fallen below the foreground threshold and GC is Idle (spec
// §4.D.1, the write-admission trigger point).
func (g *GC) TriggerForeground() {
	if g.state == Idle && g.allocator.CheckForegroundGCThreshold() {
		g.state = Foreground
		g.beginAt = uint64(g.engine.Now())
		g.stat.fgcCount++
		g.runOneVictim()
	}
}

// RequestArrived is the "a request arrived" trigger point (spec §4.D.1):
// it records the arrival for penalty accounting and, in Advanced/
// Preemptible mode, restarts the idle timer that would otherwise start a
// background collection cycle.
func (g *GC) RequestArrived() {
	now := uint64(g.engine.Now())
	if g.firstRequestArrival == noArrival {
		g.firstRequestArrival = now
	}
	if g.mode != Naive {
		g.engine.Schedule(g.evBackground, g.idleTime, 0)
	}
}

// CheckWriteStall reports whether a write must be parked on the stall list
// until GC frees space (spec §4.D.1). Preemptible GC never stalls writes
// while intentionally Paused.
func (g *GC) CheckWriteStall() bool {
	if g.mode == Preemptible && g.state == Paused {
		return false
	}
	return g.allocator.CheckForegroundGCThreshold()
}

// State reports the current activity, mainly for tests and stats.
func (g *GC) State() State { return g.state }

// Pause and Resume are the Preemptible hook: the host decides when to call
// them (spec §9's "settable hook with no policy" decision, §14.3) — this
// package does not itself decide when preemption is worthwhile.
func (g *GC) Pause() {
	if g.mode == Preemptible && g.state == Background {
		g.state = Paused
	}
}

func (g *GC) Resume() {
	if g.mode == Preemptible && g.state == Paused {
		g.state = Background
		g.runOneVictim()
	}
}

func (g *GC) triggerBackground(now simtime.Tick, data uint64) {
	if g.state == Idle && g.allocator.CheckBackgroundGCThreshold() {
		g.state = Background
		g.beginAt = uint64(now)
		g.stat.bgcCount++
		g.runOneVictim()
	}
}

func (g *GC) runOneVictim() {
	var ctx request.CopyContext
	g.allocator.GetVictimBlocks(&ctx)
	g.stat.gcCopiedPages += uint64(len(ctx.Copy))
	g.pipeline.Start(&ctx, g.onSessionDone)
}

func (g *GC) onSessionDone(psbn addr.PSBN) {
	g.allocator.ReclaimBlocks(psbn)
	g.stat.gcErasedBlocks++

	switch g.state {
	case Foreground:
		if g.allocator.CheckForegroundGCThreshold() {
			g.runOneVictim()
			return
		}
	case Background:
		if g.mode != Naive && g.allocator.CheckBackgroundGCThreshold() {
			g.runOneVictim()
			return
		}
	case Paused:
		// Resume() restarts the cycle; do nothing until the host calls it.
		return
	}

	g.finishCycle()
}

func (g *GC) finishCycle() {
	now := uint64(g.engine.Now())
	wasForeground := g.state == Foreground

	if g.firstRequestArrival != noArrival && g.firstRequestArrival < now {
		penalty := now - g.firstRequestArrival
		g.stat.penaltyCount++
		g.stat.avgPenalty += penalty
		if g.stat.minPenalty == 0 || penalty < g.stat.minPenalty {
			g.stat.minPenalty = penalty
		}
		if penalty > g.stat.maxPenalty {
			g.stat.maxPenalty = penalty
		}
		g.firstRequestArrival = noArrival
	}

	g.state = Idle
	g.beginAt = noArrival

	g.TriggerForeground()
	if g.state == Idle {
		if wasForeground {
			g.host.RestartStalledRequests()
		}
	}
}

// Stats mirrors the getStatValues fields of the reference GC classes.
type Stats struct {
	ForegroundCount uint64
	BackgroundCount uint64
	ErasedBlocks    uint64
	CopiedPages     uint64
	AvgPenalty      float64
	MinPenalty      uint64
	MaxPenalty      uint64
	PenaltyCount    uint64
}

func (g *GC) GetStats() Stats {
	avg := 0.0
	if g.stat.penaltyCount > 0 {
		avg = float64(g.stat.avgPenalty) / float64(g.stat.penaltyCount)
	}
	return Stats{
		ForegroundCount: g.stat.fgcCount,
		BackgroundCount: g.stat.bgcCount,
		ErasedBlocks:    g.stat.gcErasedBlocks,
		CopiedPages:     g.stat.gcCopiedPages,
		AvgPenalty:      avg,
		MinPenalty:      g.stat.minPenalty,
		MaxPenalty:      g.stat.maxPenalty,
		PenaltyCount:    g.stat.penaltyCount,
	}
}
