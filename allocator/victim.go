package allocator

import (
	"container/list"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/policy"
)

// pickVictim dispatches to sel and removes the chosen block from unit idx's
// full list, returning it. Each branch mirrors one class from the reference
// victim-selection hierarchy.
func (a *Allocator) pickVictim(idx uint32, sel policy.VictimSelection) addr.PSBN {
	u := &a.units[idx]
	if u.full.Len() == 0 {
		panic("allocator: pickVictim: parallelism unit has no full blocks")
	}

	var e *list.Element
	switch sel {
	case policy.Random:
		e = a.pickRandom(u.full)
	case policy.Greedy:
		e = a.pickExtreme(u.full, true, validPagesKey)
	case policy.CostBenefit:
		e = a.pickExtreme(u.full, true, costBenefitKey)
	case policy.DChoice:
		e = a.pickDChoice(u.full)
	case policy.LeastErased:
		e = u.full.Front()
	case policy.MostErased:
		e = u.full.Back()
	case policy.LeastRead:
		e = a.pickExtreme(u.full, true, readCountKey)
	case policy.MostRead:
		e = a.pickExtreme(u.full, false, readCountKey)
	case policy.LRU:
		e = a.pickExtreme(u.full, true, insertedAtKey)
	case policy.MRU:
		e = a.pickExtreme(u.full, false, insertedAtKey)
	default:
		panic("allocator: pickVictim: unknown victim selection policy")
	}

	psbn := e.Value.(addr.PSBN)
	u.full.Remove(e)
	a.fullBlockCount--
	return psbn
}

func (a *Allocator) pickRandom(l *list.List) *list.Element {
	n := l.Len()
	target := a.rng.Intn(n)
	e := l.Front()
	for i := 0; i < target; i++ {
		e = e.Next()
	}
	return e
}

// keyFunc extracts the metric a pickExtreme scan compares, keyed by the
// metadata of the candidate block.
type keyFunc func(a *Allocator, psbn addr.PSBN) float64

func validPagesKey(a *Allocator, psbn addr.PSBN) float64 {
	return float64(a.meta.Get(psbn).ValidPages.Count())
}

func readCountKey(a *Allocator, psbn addr.PSBN) float64 {
	return float64(a.meta.Get(psbn).ReadCountAfterErase)
}

func insertedAtKey(a *Allocator, psbn addr.PSBN) float64 {
	return float64(a.meta.Get(psbn).InsertedAt)
}

// costBenefitKey implements CostBenefitVictimSelection's
// utilization/((1-utilization)*age) metric, lower is a better (more
// profitable) victim, same as every other pickExtreme metric here.
func costBenefitKey(a *Allocator, psbn addr.PSBN) float64 {
	bm := a.meta.Get(psbn)
	util := float64(bm.ValidPages.Count()) / float64(a.param.Page)
	age := float64(bm.InsertedAt)
	if age == 0 {
		age = 1
	}
	return util / ((1 - util) * age)
}

// pickExtreme scans l linearly and returns the element with the smallest
// (findMin) or largest key value, ties broken in favor of the
// earliest-encountered element exactly like the reference's '<' comparisons.
func (a *Allocator) pickExtreme(l *list.List, findMin bool, key keyFunc) *list.Element {
	best := l.Front()
	bestVal := key(a, best.Value.(addr.PSBN))
	for e := best.Next(); e != nil; e = e.Next() {
		v := key(a, e.Value.(addr.PSBN))
		if (findMin && v < bestVal) || (!findMin && v > bestVal) {
			bestVal = v
			best = e
		}
	}
	return best
}

// pickDChoice samples dchoice distinct positions from l (or returns the
// first/lowest-erase-count element when l is too short to sample from) and
// picks the least-valid of the sample, matching DChoiceVictimSelection.
func (a *Allocator) pickDChoice(l *list.List) *list.Element {
	n := uint64(l.Len())
	if n <= a.dchoice {
		return l.Front()
	}

	offsets := make(map[uint64]bool, a.dchoice)
	for uint64(len(offsets)) < a.dchoice {
		offsets[uint64(a.rng.Int63n(int64(n)))] = true
	}

	var best *list.Element
	var bestVal float64
	e := l.Front()
	for i := uint64(0); i < n; i++ {
		if offsets[i] {
			v := validPagesKey(a, e.Value.(addr.PSBN))
			if best == nil || v < bestVal {
				bestVal = v
				best = e
			}
		}
		e = e.Next()
	}
	return best
}
