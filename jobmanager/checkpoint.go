package jobmanager

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Checkpoint writes JobManager's cumulative statistics. The idle-timer
// cursor itself (lastScheduledAt/lastCompleteAt) is not persisted: a
// restored core starts its idle clock fresh, matching the reference's own
// checkpoint scope (spec §12).
func (m *JobManager) Checkpoint(w io.Writer) error {
	fields := []uint64{m.stat.count, m.stat.usable, m.stat.wasted}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "jobmanager: checkpoint: write stats")
		}
	}
	return nil
}

// Restore reloads JobManager's cumulative statistics.
func (m *JobManager) Restore(r io.Reader) error {
	dst := []*uint64{&m.stat.count, &m.stat.usable, &m.stat.wasted}
	for _, v := range dst {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "jobmanager: restore: read stats")
		}
	}
	return nil
}
