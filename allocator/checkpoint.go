package allocator

import (
	"container/list"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/ryogrid/ftlcore/addr"
)

// writePSBNList writes l's length followed by its elements in list order
// (front to back), preserving the erase-count ordering insertSorted
// maintains so a restore doesn't need to re-sort anything.
func writePSBNList(w io.Writer, l *list.List) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(l.Len())); err != nil {
		return err
	}
	for e := l.Front(); e != nil; e = e.Next() {
		if err := binary.Write(w, binary.LittleEndian, uint64(e.Value.(addr.PSBN))); err != nil {
			return err
		}
	}
	return nil
}

// readPSBNList replaces l's contents with the PSBNs read from r, in order.
func readPSBNList(r io.Reader, l *list.List) error {
	l.Init()
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		var psbn uint64
		if err := binary.Read(r, binary.LittleEndian, &psbn); err != nil {
			return err
		}
		l.PushBack(addr.PSBN(psbn))
	}
	return nil
}

// Checkpoint writes each parallelism unit's in-use block and its free/full
// list contents (in list order, so erase-count ordering survives a
// restore without re-sorting) plus the round-robin cursors, per spec §6
// "Persisted state". BlockMetadata itself is mapping's to checkpoint, not
// the allocator's.
func (a *Allocator) Checkpoint(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(a.units))); err != nil {
		return errors.Wrap(err, "allocator: checkpoint: write unit count")
	}
	for i := range a.units {
		u := &a.units[i]
		if err := binary.Write(w, binary.LittleEndian, uint64(u.inUse)); err != nil {
			return errors.Wrap(err, "allocator: checkpoint: write inUse")
		}
		if err := writePSBNList(w, u.free); err != nil {
			return errors.Wrap(err, "allocator: checkpoint: write free list")
		}
		if err := writePSBNList(w, u.full); err != nil {
			return errors.Wrap(err, "allocator: checkpoint: write full list")
		}
	}
	if err := binary.Write(w, binary.LittleEndian, a.lastAllocated); err != nil {
		return errors.Wrap(err, "allocator: checkpoint: write lastAllocated")
	}
	if err := binary.Write(w, binary.LittleEndian, a.lastErased); err != nil {
		return errors.Wrap(err, "allocator: checkpoint: write lastErased")
	}
	if err := binary.Write(w, binary.LittleEndian, a.freeBlockCount); err != nil {
		return errors.Wrap(err, "allocator: checkpoint: write freeBlockCount")
	}
	if err := binary.Write(w, binary.LittleEndian, a.fullBlockCount); err != nil {
		return errors.Wrap(err, "allocator: checkpoint: write fullBlockCount")
	}
	return nil
}

// Restore reloads an Allocator's free/full lists and cursors from a
// checkpoint written by Checkpoint, panicking with "FTL configuration
// mismatch" if the unit count disagrees with this Allocator's own
// parallelism-unit count (spec §7).
func (a *Allocator) Restore(r io.Reader) error {
	var unitCount uint32
	if err := binary.Read(r, binary.LittleEndian, &unitCount); err != nil {
		return errors.Wrap(err, "allocator: restore: read unit count")
	}
	if unitCount != uint32(len(a.units)) {
		panic("FTL configuration mismatch")
	}
	for i := range a.units {
		u := &a.units[i]
		var inUse uint64
		if err := binary.Read(r, binary.LittleEndian, &inUse); err != nil {
			return errors.Wrap(err, "allocator: restore: read inUse")
		}
		u.inUse = addr.PSBN(inUse)
		if err := readPSBNList(r, u.free); err != nil {
			return errors.Wrap(err, "allocator: restore: read free list")
		}
		if err := readPSBNList(r, u.full); err != nil {
			return errors.Wrap(err, "allocator: restore: read full list")
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &a.lastAllocated); err != nil {
		return errors.Wrap(err, "allocator: restore: read lastAllocated")
	}
	if err := binary.Read(r, binary.LittleEndian, &a.lastErased); err != nil {
		return errors.Wrap(err, "allocator: restore: read lastErased")
	}
	if err := binary.Read(r, binary.LittleEndian, &a.freeBlockCount); err != nil {
		return errors.Wrap(err, "allocator: restore: read freeBlockCount")
	}
	if err := binary.Read(r, binary.LittleEndian, &a.fullBlockCount); err != nil {
		return errors.Wrap(err, "allocator: restore: read fullBlockCount")
	}
	return nil
}
