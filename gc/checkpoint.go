package gc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Checkpoint writes GC's cumulative statistics. Checkpoint/Restore assume
// the engine is quiescent (no foreground/background session in flight,
// State() == Idle): a mid-session victim's copy progress lives in its
// copypipeline.Pipeline call stack, not in any field here, so it cannot be
// captured this way. Restoring onto a GC that isn't Idle panics, the same
// as any other dimension mismatch (spec §7, spec §12).
func (g *GC) Checkpoint(w io.Writer) error {
	if g.state != Idle {
		panic("FTL configuration mismatch")
	}
	fields := []uint64{
		g.stat.fgcCount, g.stat.bgcCount, g.stat.gcErasedBlocks, g.stat.gcCopiedPages,
		g.stat.penaltyCount, g.stat.avgPenalty, g.stat.minPenalty, g.stat.maxPenalty,
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "gc: checkpoint: write stats")
		}
	}
	return nil
}

// Restore reloads GC's cumulative statistics, panicking with "FTL
// configuration mismatch" if the GC receiving them isn't Idle.
func (g *GC) Restore(r io.Reader) error {
	if g.state != Idle {
		panic("FTL configuration mismatch")
	}
	dst := []*uint64{
		&g.stat.fgcCount, &g.stat.bgcCount, &g.stat.gcErasedBlocks, &g.stat.gcCopiedPages,
		&g.stat.penaltyCount, &g.stat.avgPenalty, &g.stat.minPenalty, &g.stat.maxPenalty,
	}
	for _, v := range dst {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "gc: restore: read stats")
		}
	}
	return nil
}
