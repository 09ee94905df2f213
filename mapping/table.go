package mapping

import "github.com/ryogrid/ftlcore/addr"

// entryWidth is the per-entry byte width of the bit-packed mapping table,
// chosen at construction as the smallest of {2,4,6,8} that can hold a
// validity flag in its high bit plus enough bits for totalPhysicalSuperPages.
type entryWidth uint8

const (
	width2 entryWidth = 2
	width4 entryWidth = 4
	width6 entryWidth = 6
	width8 entryWidth = 8
)

const validBitSet = uint64(1) << 63

func chooseEntryWidth(totalPhysicalSuperPages uint64) entryWidth {
	bitsNeeded := 0
	for n := totalPhysicalSuperPages; n > 0; n >>= 1 {
		bitsNeeded++
	}
	// +1 for the validity flag occupying the entry's high bit.
	need := bitsNeeded + 1

	switch {
	case need <= 16:
		return width2
	case need <= 32:
		return width4
	case need <= 48:
		return width6
	case need <= 64:
		return width8
	default:
		panic("mapping: totalPhysicalSuperPages too large to encode in an 8-byte entry")
	}
}

// table is the LSPN-indexed, bit-packed valid+PSPN array.
type table struct {
	width   entryWidth
	entries []byte
	count   uint64
}

func newTable(entryCount uint64, width entryWidth) *table {
	return &table{
		width:   width,
		entries: make([]byte, entryCount*uint64(width)),
		count:   entryCount,
	}
}

func (t *table) validBit() uint64 {
	switch t.width {
	case width2:
		return uint64(1) << 15
	case width4:
		return uint64(1) << 31
	case width6:
		return uint64(1) << 47
	default: // width8
		return validBitSet
	}
}

func (t *table) offset(lspn addr.LSPN) uint64 {
	if uint64(lspn) >= t.count {
		panic("mapping: LSPN out of range")
	}
	return uint64(lspn) * uint64(t.width)
}

// raw reads the entry's bits as a right-aligned uint64. The 6-byte case is
// read as three explicit little-endian 16-bit halves rather than an
// unaligned 8-byte load, per the design note on the bit-packed table.
func (t *table) raw(lspn addr.LSPN) uint64 {
	off := t.offset(lspn)
	b := t.entries[off : off+uint64(t.width)]

	switch t.width {
	case width2:
		return uint64(b[0]) | uint64(b[1])<<8
	case width4:
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	case width6:
		lo := uint64(b[0]) | uint64(b[1])<<8
		mid := uint64(b[2]) | uint64(b[3])<<8
		hi := uint64(b[4]) | uint64(b[5])<<8
		return lo | mid<<16 | hi<<32
	default: // width8
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(b[i]) << (8 * i)
		}
		return v
	}
}

func (t *table) setRaw(lspn addr.LSPN, v uint64) {
	off := t.offset(lspn)
	b := t.entries[off : off+uint64(t.width)]

	switch t.width {
	case width2:
		b[0] = byte(v)
		b[1] = byte(v >> 8)
	case width4:
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
	case width6:
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
		b[4] = byte(v >> 32)
		b[5] = byte(v >> 40)
	default: // width8
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
}

// Lookup returns whether lspn's entry is valid and, if so, its PSPN.
func (t *table) Lookup(lspn addr.LSPN) (valid bool, pspn addr.PSPN) {
	v := t.raw(lspn)
	vb := t.validBit()
	if v&vb == 0 {
		return false, addr.InvalidPSPN
	}
	return true, addr.PSPN(v &^ vb)
}

// Store writes a valid entry mapping lspn to pspn.
func (t *table) Store(lspn addr.LSPN, pspn addr.PSPN) {
	t.setRaw(lspn, uint64(pspn)|t.validBit())
}

// Invalidate clears lspn's entry.
func (t *table) Invalidate(lspn addr.LSPN) {
	t.setRaw(lspn, 0)
}
