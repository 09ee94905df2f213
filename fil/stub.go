package fil

import (
	"sync"

	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/simtime"
)

// Stub is a deterministic, in-memory FIL: reads/programs/erases complete
// after a fixed latency scheduled on the engine, and the "NAND" itself is
// just a map from PPN to the bytes last written to its spare area. It is
// not a timing model — spec §1 keeps FIL timing explicitly out of scope —
// only a faithful implementation of the contract other packages are built
// against.
type Stub struct {
	engine simtime.Engine

	ReadLatency    simtime.Tick
	ProgramLatency simtime.Tick
	EraseLatency   simtime.Tick

	mu    sync.Mutex
	spare map[addr.PPN][]byte
}

// NewStub constructs a FIL stub driven by engine with the given fixed
// per-operation latencies.
func NewStub(engine simtime.Engine, readLatency, programLatency, eraseLatency simtime.Tick) *Stub {
	return &Stub{
		engine:         engine,
		ReadLatency:    readLatency,
		ProgramLatency: programLatency,
		EraseLatency:   eraseLatency,
		spare:          make(map[addr.PPN][]byte),
	}
}

func (s *Stub) Read(ppn addr.PPN, dramAddr uint64, tag uint64, completion func(tag uint64)) {
	ev := s.engine.CreateEvent(func(now simtime.Tick, data uint64) {
		completion(tag)
	}, "fil.stub.read")
	s.engine.Schedule(ev, s.ReadLatency, tag)
}

func (s *Stub) Program(ppn addr.PPN, dramAddr uint64, tag uint64, completion func(tag uint64)) {
	ev := s.engine.CreateEvent(func(now simtime.Tick, data uint64) {
		completion(tag)
	}, "fil.stub.program")
	s.engine.Schedule(ev, s.ProgramLatency, tag)
}

func (s *Stub) Erase(ppnAtPageZero addr.PPN, tag uint64, completion func(tag uint64)) {
	ev := s.engine.CreateEvent(func(now simtime.Tick, data uint64) {
		completion(tag)
	}, "fil.stub.erase")
	s.engine.Schedule(ev, s.EraseLatency, tag)
}

func (s *Stub) WriteSpare(ppn addr.PPN, spare []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(spare))
	copy(cp, spare)
	s.spare[ppn] = cp
}

// DecodeLPN implements SpareDecoder for tests driving the copy pipeline:
// it returns the LPN encoded (little-endian, first 8 bytes) in the spare
// area last written at ppn via WriteSpare or via EncodeLPNSpare.
func (s *Stub) DecodeLPN(ppn addr.PPN) (addr.LPN, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.spare[ppn]
	if !ok || len(b) < 8 {
		return addr.InvalidLPN, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return addr.LPN(v), true
}

// EncodeLPNSpare is a test/demo convenience for seeding the spare area a
// program operation would have written, so a later Read+DecodeLPN round
// trips the LPN the way the real NAND's spare area does.
func EncodeLPNSpare(lpn addr.LPN) []byte {
	b := make([]byte, 8)
	v := uint64(lpn)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
