package mapping

import "github.com/ryogrid/ftlcore/addr"

// BlockMetadata is the per-PSBN state shared, single-threaded, between
// Mapping (writes ValidPages/NextPageToWrite/InsertedAt) and the block
// allocator (reads for victim selection; writes ErasedCount and resets
// during reclaim). Spec §5 calls this out explicitly as the one piece of
// state two components mutate; there are no locks because the whole core
// runs on one discrete-event thread.
type BlockMetadata struct {
	ValidPages          *bitset
	NextPageToWrite      uint32
	ErasedCount          uint64
	InsertedAt           uint64
	ReadCountAfterErase  uint32
}

// MetaStore is the PSBN-indexed array of BlockMetadata, constructed once at
// bootstrap and handed by pointer to both Mapping and the allocator so
// neither owns the other — the "shared context passed by reference"
// pattern from the design notes, used instead of parent/child back-pointers.
type MetaStore struct {
	blocks []BlockMetadata
	page   uint32
}

// NewMetaStore allocates metadata for every super-block.
func NewMetaStore(totalSuperblocks uint64, page uint32) *MetaStore {
	blocks := make([]BlockMetadata, totalSuperblocks)
	for i := range blocks {
		blocks[i].ValidPages = newBitset(page)
	}
	return &MetaStore{blocks: blocks, page: page}
}

// Get returns the metadata for psbn. Panics on out-of-range psbn: an
// invalid PSBN reaching here is a bug in the caller, per spec §7.
func (s *MetaStore) Get(psbn addr.PSBN) *BlockMetadata {
	if uint64(psbn) >= uint64(len(s.blocks)) {
		panic("mapping: BlockMetadata access with out-of-range PSBN")
	}
	return &s.blocks[psbn]
}

func (s *MetaStore) Len() uint64 { return uint64(len(s.blocks)) }
