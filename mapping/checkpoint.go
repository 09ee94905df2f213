package mapping

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/ryogrid/ftlcore/addr"
)

// Checkpoint writes the table bytes, the per-PSBN metadata, and the
// derived dimensions needed to detect a mismatched restore (spec §4.B
// "Checkpoint").
func (m *Mapping) Checkpoint(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(m.table.width)); err != nil {
		return errors.Wrap(err, "mapping: checkpoint: write entry width")
	}
	if err := binary.Write(w, binary.LittleEndian, m.table.count); err != nil {
		return errors.Wrap(err, "mapping: checkpoint: write entry count")
	}
	if _, err := w.Write(m.table.entries); err != nil {
		return errors.Wrap(err, "mapping: checkpoint: write table entries")
	}

	if err := binary.Write(w, binary.LittleEndian, m.meta.Len()); err != nil {
		return errors.Wrap(err, "mapping: checkpoint: write metadata count")
	}
	for i := uint64(0); i < m.meta.Len(); i++ {
		bm := m.meta.Get(addr.PSBN(i))
		if err := binary.Write(w, binary.LittleEndian, bm.NextPageToWrite); err != nil {
			return errors.Wrap(err, "mapping: checkpoint: write nextPageToWrite")
		}
		if err := binary.Write(w, binary.LittleEndian, bm.ErasedCount); err != nil {
			return errors.Wrap(err, "mapping: checkpoint: write erasedCount")
		}
		if err := binary.Write(w, binary.LittleEndian, bm.InsertedAt); err != nil {
			return errors.Wrap(err, "mapping: checkpoint: write insertedAt")
		}
		if err := binary.Write(w, binary.LittleEndian, bm.ReadCountAfterErase); err != nil {
			return errors.Wrap(err, "mapping: checkpoint: write readCountAfterErase")
		}
		if _, err := w.Write(bm.ValidPages.Bytes()); err != nil {
			return errors.Wrap(err, "mapping: checkpoint: write validPages")
		}
	}

	return nil
}

// Restore reloads a Mapping's state from a checkpoint written by
// Checkpoint, panicking with "FTL configuration mismatch" on any
// dimension disagreement (spec §7).
func (m *Mapping) Restore(r io.Reader) error {
	var width uint8
	if err := binary.Read(r, binary.LittleEndian, &width); err != nil {
		return errors.Wrap(err, "mapping: restore: read entry width")
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return errors.Wrap(err, "mapping: restore: read entry count")
	}
	if entryWidth(width) != m.table.width || count != m.table.count {
		panic("FTL configuration mismatch")
	}
	if _, err := io.ReadFull(r, m.table.entries); err != nil {
		return errors.Wrap(err, "mapping: restore: read table entries")
	}

	var metaLen uint64
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return errors.Wrap(err, "mapping: restore: read metadata count")
	}
	if metaLen != m.meta.Len() {
		panic("FTL configuration mismatch")
	}
	for i := uint64(0); i < metaLen; i++ {
		bm := m.meta.Get(addr.PSBN(i))
		if err := binary.Read(r, binary.LittleEndian, &bm.NextPageToWrite); err != nil {
			return errors.Wrap(err, "mapping: restore: read nextPageToWrite")
		}
		if err := binary.Read(r, binary.LittleEndian, &bm.ErasedCount); err != nil {
			return errors.Wrap(err, "mapping: restore: read erasedCount")
		}
		if err := binary.Read(r, binary.LittleEndian, &bm.InsertedAt); err != nil {
			return errors.Wrap(err, "mapping: restore: read insertedAt")
		}
		if err := binary.Read(r, binary.LittleEndian, &bm.ReadCountAfterErase); err != nil {
			return errors.Wrap(err, "mapping: restore: read readCountAfterErase")
		}
		buf := make([]byte, (bm.ValidPages.Size()+63)/64*8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrap(err, "mapping: restore: read validPages")
		}
		bm.ValidPages.LoadBytes(buf)
	}

	return nil
}
