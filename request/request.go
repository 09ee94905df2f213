// Package request defines the host-facing SubRequest type and the
// CopyContext/CopyEntry records used by the block-copy pipeline.
package request

import "github.com/ryogrid/ftlcore/addr"

// Opcode is the operation a host SubRequest carries.
type Opcode uint8

const (
	Read Opcode = iota
	Write
	Trim
	Format
	Flush
)

func (o Opcode) String() string {
	switch o {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Trim:
		return "Trim"
	case Format:
		return "Format"
	case Flush:
		return "Flush"
	default:
		return "Unknown"
	}
}

// Response is the completion status of a Request.
type Response uint8

const (
	Success Response = iota
	Unwritten
	Failure
)

func (r Response) String() string {
	switch r {
	case Success:
		return "Success"
	case Unwritten:
		return "Unwritten"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// CompletionFunc is the host-supplied completion callback, bound to an
// engine event by the caller; it is invoked with the request's tag and its
// opaque Data payload.
type CompletionFunc func(tag uint64, data uint64)

// Request is the host-facing SubRequest the FTL core consumes. It is
// created by the host layer, mutated only by Mapping (PPN, Response) and
// the Controller (DRAMAddress), and destroyed on completion.
type Request struct {
	Tag    uint64
	Opcode Opcode

	LPN  addr.LPN
	SLPN addr.LPN
	NLP  uint32

	Offset uint32
	Length uint32

	PPN addr.PPN

	DRAMAddress uint64

	Response Response

	// Event is the handler the host wants invoked at completion; Data is
	// the opaque payload passed back to it unchanged.
	Event CompletionFunc
	Data  uint64
}

// CopyEntry owns one valid page's worth of work inside a block-copy
// session: the internal Request carries the LPN (filled in once the NAND
// read completes and the spare area is decoded) and the PPN assigned by
// write-mapping.
type CopyEntry struct {
	Request  Request
	PageIdx  uint32
	BeginAt  uint64
}

// CopyContext is per-victim-block state for one parallel copy session,
// created by the allocator's victim selection and consumed by the
// block-copy pipeline.
type CopyContext struct {
	BlockID addr.PSBN
	Copy    []CopyEntry

	PageReadIndex  uint32
	PageWriteIndex uint32
	ReadCounter    uint32
	WriteCounter   uint32
	BeginAt        uint64
}
