// Package checkpoint composes every subsystem's own Checkpoint/Restore
// pair into one binary image for a whole FTL core (spec §6 "Persisted
// state", spec §12). It re-validates the core's dimensions before
// touching any subsystem so a restore against the wrong Parameter fails
// fast with the same "FTL configuration mismatch" panic every subsystem
// already raises on its own narrower disagreement, rather than a confusing
// partial restore.
//
// Checkpoint/Restore assume the engine is quiescent: no request is
// in flight through ftl.Controller and no background job is mid-session.
// A restored core resumes as if freshly booted against persisted NAND
// state — in-flight host requests, RMW merge chains, and the write-stall
// list are a host's responsibility to re-submit, not this package's to
// replay (spec §12, §14.4).
package checkpoint

import (
	"encoding/binary"
	"io"

	"github.com/dsnet/golib/memfile"
	"github.com/pkg/errors"
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/allocator"
	"github.com/ryogrid/ftlcore/gc"
	"github.com/ryogrid/ftlcore/jobmanager"
	"github.com/ryogrid/ftlcore/mapping"
	"github.com/ryogrid/ftlcore/readreclaim"
	"github.com/ryogrid/ftlcore/wearlevel"
)

// magic tags the start of every image this package writes, so Restore can
// refuse a file that isn't one of its own checkpoints before even looking
// at the dimension header.
const magic = uint32(0x46544c31) // "FTL1"

// Core bundles the stateful subsystems one FTL instance is built from
// (spec §9 "init order"). Unlike ftl.Config it holds the Allocator and
// leaves out the FIL, the engine and the transport-facing Controller itself
// (Controller holds no durable state of its own once quiescent, per the
// package doc above).
type Core struct {
	Param       *addr.Parameter
	Mapping     *mapping.Mapping
	Allocator   *allocator.Allocator
	GC          *gc.GC
	JobManager  *jobmanager.JobManager
	WearLevel   *wearlevel.WearLeveling   // nil if wear leveling is disabled
	ReadReclaim *readreclaim.ReadReclaim // nil if read reclaim is disabled
}

// Save writes a complete checkpoint of core to w: a magic tag, a dimension
// header derived from Param, then each subsystem's own Checkpoint output
// in a fixed order. Optional subsystems write a single presence byte ahead
// of their section so Restore knows whether to expect one.
func Save(w io.Writer, core Core) error {
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return errors.Wrap(err, "checkpoint: save: write magic")
	}
	if err := writeDimensions(w, core.Param); err != nil {
		return errors.Wrap(err, "checkpoint: save: write dimensions")
	}
	if err := core.Mapping.Checkpoint(w); err != nil {
		return errors.Wrap(err, "checkpoint: save: mapping")
	}
	if err := core.Allocator.Checkpoint(w); err != nil {
		return errors.Wrap(err, "checkpoint: save: allocator")
	}
	if err := core.GC.Checkpoint(w); err != nil {
		return errors.Wrap(err, "checkpoint: save: gc")
	}
	if err := core.JobManager.Checkpoint(w); err != nil {
		return errors.Wrap(err, "checkpoint: save: jobmanager")
	}
	if err := writeOptional(w, core.WearLevel); err != nil {
		return errors.Wrap(err, "checkpoint: save: wearlevel")
	}
	if err := writeOptional(w, core.ReadReclaim); err != nil {
		return errors.Wrap(err, "checkpoint: save: readreclaim")
	}
	return nil
}

// Load restores core from a checkpoint written by Save, panicking with
// "FTL configuration mismatch" if the image's dimensions don't match
// core.Param, if the magic tag is wrong, or if optional-subsystem presence
// disagrees with which of core.WearLevel/core.ReadReclaim are non-nil.
func Load(r io.Reader, core Core) error {
	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return errors.Wrap(err, "checkpoint: load: read magic")
	}
	if gotMagic != magic {
		panic("FTL configuration mismatch")
	}
	if err := checkDimensions(r, core.Param); err != nil {
		return errors.Wrap(err, "checkpoint: load: read dimensions")
	}
	if err := core.Mapping.Restore(r); err != nil {
		return errors.Wrap(err, "checkpoint: load: mapping")
	}
	if err := core.Allocator.Restore(r); err != nil {
		return errors.Wrap(err, "checkpoint: load: allocator")
	}
	if err := core.GC.Restore(r); err != nil {
		return errors.Wrap(err, "checkpoint: load: gc")
	}
	if err := core.JobManager.Restore(r); err != nil {
		return errors.Wrap(err, "checkpoint: load: jobmanager")
	}
	if err := readOptional(r, core.WearLevel); err != nil {
		return errors.Wrap(err, "checkpoint: load: wearlevel")
	}
	if err := readOptional(r, core.ReadReclaim); err != nil {
		return errors.Wrap(err, "checkpoint: load: readreclaim")
	}
	return nil
}

// restorer is the Checkpoint/Restore pair every optional subsystem this
// package wires exposes.
type restorer interface {
	Checkpoint(io.Writer) error
	Restore(io.Reader) error
}

func writeOptional(w io.Writer, r restorer) error {
	present := !isNilRestorer(r)
	if err := binary.Write(w, binary.LittleEndian, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return r.Checkpoint(w)
}

func readOptional(r io.Reader, dst restorer) error {
	var present bool
	if err := binary.Read(r, binary.LittleEndian, &present); err != nil {
		return err
	}
	if present != !isNilRestorer(dst) {
		panic("FTL configuration mismatch")
	}
	if !present {
		return nil
	}
	return dst.Restore(r)
}

// isNilRestorer reports whether r wraps a nil *wearlevel.WearLeveling or
// *readreclaim.ReadReclaim: a restorer interface value holding a typed nil
// pointer is itself non-nil, so callers can't just compare r == nil.
func isNilRestorer(r restorer) bool {
	switch v := r.(type) {
	case *wearlevel.WearLeveling:
		return v == nil
	case *readreclaim.ReadReclaim:
		return v == nil
	default:
		return r == nil
	}
}

func writeDimensions(w io.Writer, p *addr.Parameter) error {
	fields := []uint64{
		uint64(p.Channel), uint64(p.Way), uint64(p.Die), uint64(p.Plane),
		uint64(p.Block), uint64(p.Page), uint64(p.PageSize), uint64(p.SpareSize),
		uint64(p.Superpage), p.TotalPhysicalSuperPages, p.TotalSuperblocks,
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func checkDimensions(r io.Reader, p *addr.Parameter) error {
	want := []uint64{
		uint64(p.Channel), uint64(p.Way), uint64(p.Die), uint64(p.Plane),
		uint64(p.Block), uint64(p.Page), uint64(p.PageSize), uint64(p.SpareSize),
		uint64(p.Superpage), p.TotalPhysicalSuperPages, p.TotalSuperblocks,
	}
	for _, w := range want {
		var got uint64
		if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
			return err
		}
		if got != w {
			panic("FTL configuration mismatch")
		}
	}
	return nil
}

// NewBuffer allocates an in-memory, ReadWriterAt-capable blob a checkpoint
// can be saved into or loaded from without touching a real file — the same
// memfile-backed pattern dram.Stub uses for its DRAM/SRAM pools.
func NewBuffer(size int) *memfile.File {
	return memfile.New(make([]byte, size))
}
