// Package allocator implements the block allocator subsystem of spec §4.C:
// per-parallelism-unit free/full lists ordered by erase count, round-robin
// block hand-out, GC threshold checks, and victim-block selection.
//
// GenericAllocator is the only allocator variant this module ships — the
// open question in spec §9 of whether to support pluggable allocator
// strategies is resolved in favor of the one the reference implementation
// actually wires by default (spec §14.2).
package allocator

import (
	"container/list"
	"math/rand"

	"github.com/prometheus/common/log"
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
)

// Mapping is the slice of the mapping subsystem's API the allocator calls
// into when a block finishes erasing. Declared here, not imported from a
// concrete type, for the same reason mapping.Allocator is declared in the
// mapping package: avoid a mapping<->allocator import cycle.
type Mapping interface {
	MarkBlockErased(psbn addr.PSBN)
	GetAge(psbn addr.PSBN) uint64
}

// unitLists holds one parallelism unit's free and full super-block lists,
// both kept sorted ascending by erase count the way sortedBlockList's
// std::list<PSBN> members are maintained in the reference allocator.
type unitLists struct {
	inUse addr.PSBN
	free  *list.List // elements are addr.PSBN
	full  *list.List
}

// Allocator is the GenericAllocator port: one free/full list pair per
// parallelism unit, a shared view of BlockMetadata, and a pluggable victim
// selection policy.
type Allocator struct {
	param *addr.Parameter
	meta  *mapping.MetaStore
	mp    Mapping

	units []unitLists

	freeBlockCount uint64
	fullBlockCount uint64

	lastAllocated uint32
	lastErased    uint32

	selection     policy.VictimSelection
	fgcThreshold  float64
	bgcThreshold  float64
	dchoice       uint64

	rng *rand.Rand
}

// New builds an Allocator and fills every parallelism unit's free list with
// its share of super-blocks: unit i owns the contiguous PSBN range
// [i*Block, (i+1)*Block), the same partition addr.Parameter's PSBN packing
// assumes (GetParallelismIndexFromPSBN = psbn/Block).
func New(param *addr.Parameter, meta *mapping.MetaStore, mp Mapping,
	selection policy.VictimSelection, dchoice uint64, fgcThreshold, bgcThreshold float64, seed int64) *Allocator {

	units := param.ParallelismUnits
	if units == 0 {
		panic("allocator: New: parallelism units must be nonzero")
	}

	if float64(units)/float64(param.TotalSuperblocks)*2 >= fgcThreshold {
		adjusted := float64(units+1) / float64(param.TotalSuperblocks) * 2
		log.Warnf("allocator: foreground GC threshold %.4f cannot hold minimum blocks, raising to %.4f", fgcThreshold, adjusted)
		fgcThreshold = adjusted
	}

	a := &Allocator{
		param:        param,
		meta:         meta,
		mp:           mp,
		units:        make([]unitLists, units),
		selection:    selection,
		fgcThreshold: fgcThreshold,
		bgcThreshold: bgcThreshold,
		dchoice:      dchoice,
		rng:          rand.New(rand.NewSource(seed)),
	}

	// Unit i owns the contiguous PSBN range [i*Block, (i+1)*Block), matching
	// addr.Parameter's PSBN encoding (unitIdx = psbn/Block). One block per
	// unit is immediately handed out as its initial in-use block, the same
	// way the reference allocator's constructor primes each unit's write
	// target instead of leaving it pointed at PSBN 0.
	for i := uint32(0); i < units; i++ {
		u := &a.units[i]
		u.free = list.New()
		u.full = list.New()
		base := uint64(i) * uint64(param.Block)
		for j := uint64(0); j < uint64(param.Block); j++ {
			u.free.PushBack(addr.PSBN(base + j))
		}
		u.inUse = u.free.Remove(u.free.Front()).(addr.PSBN)
	}
	a.freeBlockCount = param.TotalSuperblocks - uint64(units)

	return a
}

// insertSorted inserts psbn into l, keeping it ordered ascending by
// BlockMetadata.ErasedCount — the same linear insertion-sort the reference
// allocator performs on both its free and full std::list<PSBN>.
func (a *Allocator) insertSorted(l *list.List, psbn addr.PSBN) {
	ec := a.meta.Get(psbn).ErasedCount
	for e := l.Front(); e != nil; e = e.Next() {
		if a.meta.Get(e.Value.(addr.PSBN)).ErasedCount > ec {
			l.InsertBefore(psbn, e)
			return
		}
	}
	l.PushBack(psbn)
}

// GetBlockAt returns the block currently in use by parallelism unit idx, or
// by the round-robin cursor when idx is policy.AnyParallelismUnit (spec
// §4.C "getBlockAt(parallelismIdx) -> PSBN... round-robin if idx==InvalidIndex").
// It also returns the concrete unit index the sentinel resolved to, so a
// caller that must later seal this same block with AllocateBlock can pass
// that concrete index back instead of re-resolving the sentinel against a
// round-robin cursor that's moved on in the meantime.
func (a *Allocator) GetBlockAt(idx uint32) (addr.PSBN, uint32) {
	if idx == policy.AnyParallelismUnit {
		idx = a.lastAllocated
		a.lastAllocated++
		if a.lastAllocated == uint32(len(a.units)) {
			a.lastAllocated = 0
		}
	}
	if idx >= uint32(len(a.units)) {
		panic("allocator: GetBlockAt: parallelism index out of range")
	}
	return a.units[idx].inUse, idx
}

// AllocateBlock seals oldBlock into its unit's full list (when valid) and
// opens the next free block from the same unit, choosing the low or high
// end of the free list per strategy. It panics if the unit has no free
// blocks left, matching the reference's hard panic_if.
func (a *Allocator) AllocateBlock(idx uint32, oldBlock addr.PSBN, strategy policy.AllocationStrategy) addr.PSBN {
	if idx == policy.AnyParallelismUnit {
		idx = a.lastAllocated
		a.lastAllocated++
		if a.lastAllocated == uint32(len(a.units)) {
			a.lastAllocated = 0
		}
	}
	if idx >= uint32(len(a.units)) {
		panic("allocator: AllocateBlock: parallelism index out of range")
	}
	u := &a.units[idx]

	if oldBlock.Valid() {
		if u.inUse != oldBlock {
			panic("allocator: AllocateBlock: oldBlock does not match unit's in-use block")
		}
		a.insertSorted(u.full, oldBlock)
		a.fullBlockCount++
	}

	if u.free.Len() == 0 {
		panic("allocator: AllocateBlock: no free blocks left for this parallelism unit")
	}

	var e *list.Element
	switch strategy {
	case policy.HighestEraseCount:
		e = u.free.Back()
	default: // LowestEraseCount
		e = u.free.Front()
	}
	psbn := e.Value.(addr.PSBN)
	u.free.Remove(e)
	a.freeBlockCount--

	u.inUse = psbn
	return psbn
}

// CheckForegroundGCThreshold reports whether the free-block ratio has
// fallen below fgcThreshold, the point at which a write must stall for
// synchronous GC (spec §4.D.1).
func (a *Allocator) CheckForegroundGCThreshold() bool {
	return float64(a.freeBlockCount)/float64(a.param.TotalSuperblocks) < a.fgcThreshold
}

// CheckBackgroundGCThreshold reports whether the free-block ratio has
// fallen below bgcThreshold, the point at which a background GC job should
// be triggered (spec §4.D.1).
func (a *Allocator) CheckBackgroundGCThreshold() bool {
	return float64(a.freeBlockCount)/float64(a.param.TotalSuperblocks) < a.bgcThreshold
}

// GetVictimBlocks selects one victim from the next parallelism unit in
// round-robin order per the configured VictimSelection policy, fills
// ctx.Copy with its valid pages, and removes it from that unit's full list.
func (a *Allocator) GetVictimBlocks(ctx *request.CopyContext) {
	idx := a.lastErased
	a.lastErased++
	if a.lastErased == uint32(len(a.units)) {
		a.lastErased = 0
	}

	psbn := a.pickVictim(idx, a.selection)
	a.fillCopyList(ctx, psbn)
}

// PickWearLevelingVictim always selects the least-erased full block of the
// next parallelism unit in round-robin order, independent of the GC
// selection policy configured at construction — static wear leveling always
// targets the coldest block regardless of which policy GC itself uses
// (original_source/ftl/wear_leveling/static_wear_leveling.cc hard-codes
// VictimSelectionID::LeastErased rather than reading it from config).
func (a *Allocator) PickWearLevelingVictim(ctx *request.CopyContext) {
	idx := a.lastErased
	a.lastErased++
	if a.lastErased == uint32(len(a.units)) {
		a.lastErased = 0
	}

	psbn := a.pickVictim(idx, policy.LeastErased)
	a.fillCopyList(ctx, psbn)
}

// GetVictimBlockByID fills ctx for a caller-chosen block instead of one
// selected by policy, removing it from its unit's full list the same way
// GetVictimBlocks does. Read reclaim uses this: the block to relocate is
// whichever one a NAND read just reported too many bit errors on, not one
// picked by a victim-selection policy (original_source/ftl/read_reclaim/
// basic_read_reclaim.cc calls getVictimBlocks with a nil selection method
// once it has already decided the target PSBN itself).
func (a *Allocator) GetVictimBlockByID(ctx *request.CopyContext, psbn addr.PSBN) {
	idx := a.param.GetParallelismIndexFromPSBN(psbn)
	u := &a.units[idx]
	for e := u.full.Front(); e != nil; e = e.Next() {
		if e.Value.(addr.PSBN) == psbn {
			u.full.Remove(e)
			a.fullBlockCount--
			a.fillCopyList(ctx, psbn)
			return
		}
	}
	panic("allocator: GetVictimBlockByID: block not found on its unit's full list")
}

func (a *Allocator) fillCopyList(ctx *request.CopyContext, psbn addr.PSBN) {
	ctx.BlockID = psbn
	bm := a.meta.Get(psbn)
	ctx.Copy = ctx.Copy[:0]
	for i := uint32(0); i < bm.ValidPages.Size(); i++ {
		if bm.ValidPages.Test(i) {
			ctx.Copy = append(ctx.Copy, request.CopyEntry{PageIdx: i})
		}
	}
}

// WearLevelingFactor reports Jain's fairness index over every super-block's
// erase count: 1.0 is perfectly even wear, lower values indicate skew.
// Matches GenericAllocator::getStatValues' "wear_leveling.factor" formula.
func (a *Allocator) WearLevelingFactor() float64 {
	var total, square float64
	n := a.param.TotalSuperblocks
	for i := uint64(0); i < n; i++ {
		ec := float64(a.meta.Get(addr.PSBN(i)).ErasedCount)
		total += ec
		square += ec * ec
	}
	if square == 0 {
		return 1
	}
	return total * total / (square * float64(n))
}

// ReclaimBlocks marks psbn erased (incrementing its erase count and
// resetting its live-page state via the mapping subsystem) and returns it
// to its parallelism unit's free list, sorted by erase count.
func (a *Allocator) ReclaimBlocks(psbn addr.PSBN) {
	if uint64(psbn) >= a.param.TotalSuperblocks {
		panic("allocator: ReclaimBlocks: block id out of range")
	}

	idx := a.param.GetParallelismIndexFromPSBN(psbn)
	bm := a.meta.Get(psbn)
	bm.ErasedCount++
	a.mp.MarkBlockErased(psbn)

	a.insertSorted(a.units[idx].free, psbn)
	a.freeBlockCount++
}

// GetPageStatistics sums valid and invalid page counts across every opened
// or sealed super-block (free blocks are all-invalid by construction and
// excluded), matching GenericAllocator::getPageStatistics.
func (a *Allocator) GetPageStatistics() (valid, invalid uint64) {
	for i := uint64(0); i < a.param.TotalSuperblocks; i++ {
		bm := a.meta.Get(addr.PSBN(i))
		if bm.NextPageToWrite > 0 {
			v := uint64(bm.ValidPages.Count())
			valid += v
			invalid += uint64(bm.NextPageToWrite) - v
		}
	}
	return valid, invalid
}

// FreeBlockCount and FullBlockCount expose the O(1) shortcut counters kept
// alongside the per-unit lists.
func (a *Allocator) FreeBlockCount() uint64 { return a.freeBlockCount }
func (a *Allocator) FullBlockCount() uint64 { return a.fullBlockCount }
