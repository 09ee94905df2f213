package readreclaim

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Checkpoint writes ReadReclaim's cumulative statistics, on the same
// quiescent-state assumption as gc.GC.Checkpoint (spec §12): the
// pendingList of blocks already flagged but not yet relocated is not
// captured, since a checkpoint is only ever taken with that list drained.
func (r *ReadReclaim) Checkpoint(w io.Writer) error {
	if r.state != Idle || r.pendingList.Len() != 0 {
		panic("FTL configuration mismatch")
	}
	fields := []uint64{r.stat.foreground, r.stat.background, r.stat.copiedPages, r.stat.erasedBlocks}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "readreclaim: checkpoint: write stats")
		}
	}
	return nil
}

// Restore reloads ReadReclaim's cumulative statistics.
func (r *ReadReclaim) Restore(rd io.Reader) error {
	if r.state != Idle || r.pendingList.Len() != 0 {
		panic("FTL configuration mismatch")
	}
	dst := []*uint64{&r.stat.foreground, &r.stat.background, &r.stat.copiedPages, &r.stat.erasedBlocks}
	for _, v := range dst {
		if err := binary.Read(rd, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "readreclaim: restore: read stats")
		}
	}
	return nil
}
