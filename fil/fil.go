// Package fil declares the external flash-interface-layer contract the FTL
// core consumes (spec §6) and provides an in-memory stub implementation
// used by tests and the demo harness: a minimal collaborator that
// satisfies the interface without modeling real timing.
package fil

import "github.com/ryogrid/ftlcore/addr"

// FIL is the narrow contract the core consumes from the NAND timing model.
// Read and Program may carry a request tag so the spare-area LPN can be
// attached to the completion for the block-copy pipeline's updateMapping
// step; Erase targets only the page-0 address of a super-block stripe.
type FIL interface {
	Read(ppn addr.PPN, dramAddr uint64, tag uint64, completion func(tag uint64))
	Program(ppn addr.PPN, dramAddr uint64, tag uint64, completion func(tag uint64))
	Erase(ppnAtPageZero addr.PPN, tag uint64, completion func(tag uint64))
	// WriteSpare is synchronous: the controller and the block-copy pipeline
	// both call it immediately before Program to record the page's LPN,
	// per spec §6.
	WriteSpare(ppn addr.PPN, spare []byte)
}

// SpareDecoder resolves the LPN stored in a page's spare area, consumed by
// the block-copy pipeline after a read completes (spec §4.D step 2).
type SpareDecoder interface {
	DecodeLPN(ppn addr.PPN) (addr.LPN, bool)
}
