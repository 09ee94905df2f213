// Package policy holds the small closed enumerations shared between the
// mapping, allocator, and copy-pipeline packages so that none of them needs
// to import another just to name a strategy.
package policy

// AllocationStrategy biases which end of the free list writeMapping's
// allocator hand-out pulls from: normal writes and GC copy-out prefer the
// lowest erase count, steering fresh writes onto the least-worn blocks;
// wear leveling's copy-out prefers the highest, parking cold data on the
// most-worn blocks.
type AllocationStrategy uint8

const (
	LowestEraseCount AllocationStrategy = iota
	HighestEraseCount
)

// AnyParallelismUnit tells the allocator "give me whichever parallelism
// unit its round-robin cursor currently points to" instead of a specific
// unit index, used for ordinary sequential writes that aren't pinned to a
// die group (spec §4.C, getBlockAt "round-robin if idx==InvalidIndex").
const AnyParallelismUnit uint32 = ^uint32(0)

// VictimSelection names one of the closed set of victim-block selection
// policies spec §4.C requires.
type VictimSelection uint8

const (
	Random VictimSelection = iota
	Greedy
	CostBenefit
	DChoice
	LeastErased
	MostErased
	LeastRead
	MostRead
	LRU
	MRU
)

func (v VictimSelection) String() string {
	switch v {
	case Random:
		return "Random"
	case Greedy:
		return "Greedy"
	case CostBenefit:
		return "CostBenefit"
	case DChoice:
		return "DChoice"
	case LeastErased:
		return "LeastErased"
	case MostErased:
		return "MostErased"
	case LeastRead:
		return "LeastRead"
	case MostRead:
		return "MostRead"
	case LRU:
		return "LRU"
	case MRU:
		return "MRU"
	default:
		return "Unknown"
	}
}
