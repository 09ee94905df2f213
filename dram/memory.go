// Package dram declares the external DRAM/SRAM timing-model contract the
// FTL core consumes (spec §6) and an in-memory stub implementation. Each
// pool holds a github.com/dsnet/golib/memfile file of its capacity, but
// the stub models timing and capacity only: Read and Write schedule
// completions and never access those bytes.
package dram

import (
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"github.com/ryogrid/ftlcore/simtime"
)

// Type distinguishes the two memory pools the copy pipeline prefers
// (SRAM first, falling back to DRAM) when allocating per-session buffers.
type Type uint8

const (
	DRAM Type = iota
	SRAM
)

// Memory is the narrow contract the core consumes from the DRAM/SRAM
// timing model: a serialized, scheduled read/write FIFO plus an allocator.
type Memory interface {
	Read(address, length uint64, tag uint64, completion func(tag uint64))
	Write(address, length uint64, tag uint64, completion func(tag uint64))
	// Allocate reserves size bytes from pool mtype and returns the base
	// address. dryRun lets the caller probe remaining capacity without
	// committing the allocation.
	Allocate(size uint64, mtype Type, label string, dryRun bool) (address uint64, err error)
}

type pool struct {
	capacity uint64
	used     uint64
	file     *memfile.File
}

// Stub is a deterministic in-memory Memory: every Read/Write is replayed
// through a single FIFO (matching the "memory-access scheduler" described
// in spec §4.F) and completes after AccessLatency, scaled by length when
// PerByteLatency is nonzero.
type Stub struct {
	engine simtime.Engine

	AccessLatency  simtime.Tick
	PerByteLatency simtime.Tick

	mu    sync.Mutex
	pools [2]*pool

	pending bool
	queue   []memOp
}

type memOp struct {
	address, length uint64
	tag             uint64
	completion      func(tag uint64)
}

// NewStub constructs a Memory stub with the given DRAM/SRAM pool
// capacities in bytes.
func NewStub(engine simtime.Engine, dramBytes, sramBytes uint64, accessLatency simtime.Tick) *Stub {
	s := &Stub{engine: engine, AccessLatency: accessLatency}
	s.pools[DRAM] = &pool{capacity: dramBytes, file: memfile.New(make([]byte, dramBytes))}
	s.pools[SRAM] = &pool{capacity: sramBytes, file: memfile.New(make([]byte, sramBytes))}
	return s
}

func (s *Stub) Allocate(size uint64, mtype Type, label string, dryRun bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[mtype]
	if p == nil {
		return 0, errors.Errorf("dram: unknown memory type %d", mtype)
	}

	// Allocations of at least one directio block also obtain an aligned
	// block from ncw/directio; it is discarded, and the address returned
	// below is an offset into the pool, not into that block.
	if size >= uint64(directio.BlockSize) {
		_ = directio.AlignedBlock(int(size))
	}

	if p.used+size > p.capacity {
		if dryRun {
			return 0, errors.Errorf("dram: pool %d: would exceed capacity (%d+%d>%d)", mtype, p.used, size, p.capacity)
		}
		return 0, errors.Errorf("dram: pool %d: out of capacity allocating %q (%d+%d>%d)", mtype, label, p.used, size, p.capacity)
	}

	if dryRun {
		return p.used, nil
	}

	addr := p.used
	p.used += size
	return addr, nil
}

func (s *Stub) Read(address, length uint64, tag uint64, completion func(tag uint64)) {
	s.enqueue(memOp{address, length, tag, completion})
}

func (s *Stub) Write(address, length uint64, tag uint64, completion func(tag uint64)) {
	s.enqueue(memOp{address, length, tag, completion})
}

func (s *Stub) enqueue(op memOp) {
	s.mu.Lock()
	s.queue = append(s.queue, op)
	pending := s.pending
	s.pending = true
	s.mu.Unlock()

	if !pending {
		s.submitNext()
	}
}

func (s *Stub) submitNext() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.pending = false
		s.mu.Unlock()
		return
	}
	op := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	delay := s.AccessLatency + s.PerByteLatency*simtime.Tick(op.length)
	ev := s.engine.CreateEvent(func(now simtime.Tick, data uint64) {
		op.completion(op.tag)
		s.submitNext()
	}, "dram.stub.access")
	s.engine.Schedule(ev, delay, op.tag)
}
