// Command ftlsim is a thin demo harness: it wires one complete FTL core
// with ftl.Bootstrap, drives a short workload of writes and reads through
// it, and prints the resulting statistics. It exists to exercise every
// package end to end, not as a load-testing tool.
package main

import (
	"fmt"

	"github.com/prometheus/common/log"
	"github.com/ryogrid/ftlcore/addr"
	"github.com/ryogrid/ftlcore/ftl"
	"github.com/ryogrid/ftlcore/gc"
	"github.com/ryogrid/ftlcore/policy"
	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

func main() {
	param := addr.NewParameter(
		2, 2, 2, 1, // channel, way, die, plane
		64, 128, // block, page
		4096, 64, // pageSize, spareSize
		4, // superpage
		[4]addr.Dimension{addr.DimChannel, addr.DimWay, addr.DimDie, addr.DimPlane},
		0.1, // over-provisioning
	)

	controller, engine := ftl.Bootstrap(ftl.BootstrapConfig{
		Param:                   param,
		ReadLatency:             simtime.Tick(25_000),
		ProgramLatency:          simtime.Tick(200_000),
		EraseLatency:            simtime.Tick(1_500_000),
		MemoryAccessLatency:     simtime.Tick(50),
		DRAMBytes:               64 << 20,
		SRAMBytes:               8 << 20,
		GCMode:                  gc.Advanced,
		GCIdleTime:              simtime.Tick(1_000_000),
		ForegroundGCThreshold:   0.05,
		BackgroundGCThreshold:   0.2,
		VictimSelection:         policy.Greedy,
		DChoiceFanout:           2,
		WearLevelThreshold:      0.2,
		EnableWearLevel:         true,
		EnableReadReclaim:       true,
		JobManagerIdleThreshold: simtime.Tick(500_000),
		MergeReadModifyWrite:    true,
		Seed:                    1,
	})

	var tag uint64
	nextTag := func() uint64 {
		tag++
		return tag
	}

	outstanding := 0
	done := func(uint64, uint64) { outstanding-- }

	for lpn := addr.LPN(0); lpn < 256; lpn++ {
		req := &request.Request{
			Tag: nextTag(), Opcode: request.Write,
			LPN: lpn, SLPN: lpn, NLP: 1,
			Offset: 0, Length: param.PageSize,
			Event: done,
		}
		outstanding++
		if !controller.Write(req) {
			log.Infof("ftlsim: write for LPN %d stalled on GC", lpn)
		}
	}

	// Unaligned sub-page writes force the read-modify-write path: each one
	// reads the rest of its window's existing slots before re-programming
	// the whole superpage.
	for lpn := addr.LPN(256); lpn < 256+32; lpn++ {
		req := &request.Request{
			Tag: nextTag(), Opcode: request.Write,
			LPN: lpn, SLPN: lpn, NLP: 1,
			Offset: 0, Length: param.PageSize / 2,
			Event: done,
		}
		outstanding++
		if !controller.Write(req) {
			log.Infof("ftlsim: write for LPN %d stalled on GC", lpn)
		}
	}

	// Re-write the first block of LPNs repeatedly so its erase count climbs
	// well past its neighbors, giving the wear-leveling job something to
	// act on once it triggers.
	for pass := 0; pass < 64; pass++ {
		for lpn := addr.LPN(0); lpn < 4; lpn++ {
			req := &request.Request{
				Tag: nextTag(), Opcode: request.Write,
				LPN: lpn, SLPN: lpn, NLP: 1,
				Offset: 0, Length: param.PageSize,
				Event: done,
			}
			outstanding++
			if !controller.Write(req) {
				log.Infof("ftlsim: write for LPN %d stalled on GC", lpn)
			}
		}
	}

	for lpn := addr.LPN(0); lpn < 256+32; lpn++ {
		req := &request.Request{
			Tag: nextTag(), Opcode: request.Read,
			LPN: lpn, SLPN: lpn, NLP: 1,
			Offset: 0, Length: param.PageSize,
			Event: done,
		}
		outstanding++
		controller.Read(req)
	}

	engine.Run(simtime.Tick(1) << 40)

	stats := controller.Stats()
	fmt.Printf("requests: reads=%d writes=%d rmw=%d outstanding=%d\n",
		stats.ReadCount, stats.WriteCount, stats.RMWCount, outstanding)
}
