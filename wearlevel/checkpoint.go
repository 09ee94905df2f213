package wearlevel

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Checkpoint writes WearLeveling's cumulative statistics, on the same
// quiescent-state assumption as gc.GC.Checkpoint (spec §12).
func (w *WearLeveling) Checkpoint(wr io.Writer) error {
	if w.state != Idle {
		panic("FTL configuration mismatch")
	}
	fields := []uint64{w.stat.foreground, w.stat.background, w.stat.erasedBlocks, w.stat.copiedPages}
	for _, v := range fields {
		if err := binary.Write(wr, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "wearlevel: checkpoint: write stats")
		}
	}
	return nil
}

// Restore reloads WearLeveling's cumulative statistics.
func (w *WearLeveling) Restore(r io.Reader) error {
	if w.state != Idle {
		panic("FTL configuration mismatch")
	}
	dst := []*uint64{&w.stat.foreground, &w.stat.background, &w.stat.erasedBlocks, &w.stat.copiedPages}
	for _, v := range dst {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "wearlevel: restore: read stats")
		}
	}
	return nil
}
