// Package jobmanager implements the background-job scheduler of spec §4.G:
// a single idle-time detector shared by every registered background job
// (the ftl package registers wear leveling and read reclaim; GC keeps its
// own idle timer), rescheduled on every user I/O completion and
// deferred on every new user I/O, plus the six user-I/O trigger points
// those jobs hook into.
//
// Grounded on original_source/ftl/background_manager/basic_job_manager.cc
// and abstract_background_job.hh (TriggerType's six points and the
// Job interface every background job implements).
package jobmanager

import (
	"math"

	"github.com/ryogrid/ftlcore/request"
	"github.com/ryogrid/ftlcore/simtime"
)

// TriggerType is a user-I/O trigger point a background Job can hook into,
// matching AbstractJob::TriggerType one-for-one.
type TriggerType uint8

const (
	ReadMapping TriggerType = iota
	ReadSubmit
	ReadComplete
	WriteMapping
	WriteSubmit
	WriteComplete
)

func (t TriggerType) String() string {
	switch t {
	case ReadMapping:
		return "ReadMapping"
	case ReadSubmit:
		return "ReadSubmit"
	case ReadComplete:
		return "ReadComplete"
	case WriteMapping:
		return "WriteMapping"
	case WriteSubmit:
		return "WriteSubmit"
	case WriteComplete:
		return "WriteComplete"
	default:
		return "Unknown"
	}
}

// noDeadline is the "no known next request" sentinel passed to
// TriggerByIdle from the threshold-based idle timer, matching
// std::numeric_limits<uint64_t>::max() in idletimeEvent.
const noDeadline = math.MaxUint64

// Job is the interface the background jobs registered at bootstrap
// (wearlevel.WearLeveling, readreclaim.ReadReclaim; gc.GC is not
// registered) are adapted to so JobManager can drive them uniformly.
// None of those packages implement Job
// directly — their method names and signatures are shaped around their
// own domain (TriggerForeground, OnReadComplete, ...) — the ftl package's
// bootstrap wraps each in a small adapter satisfying this interface, the
// same "wire with concrete types, not shared base classes" approach used
// throughout this module.
type Job interface {
	Initialize()
	IsRunning() bool
	TriggerByUser(when TriggerType, req *request.Request)
	TriggerByIdle(now uint64, deadline uint64)
}

type stats struct {
	count         uint64
	usable, wasted uint64
}

// JobManager runs every registered Job's idle-time hook off one shared
// timer: each completed user I/O reschedules it threshold ticks out, each
// newly admitted one defers it, so the timer only fires after the SSD has
// truly been idle for threshold ticks.
type JobManager struct {
	engine simtime.Engine
	jobs   []Job

	threshold       simtime.Tick
	lastScheduledAt uint64
	lastCompleteAt  uint64
	eventIdletime   simtime.EventID

	stat stats
}

// New builds a JobManager. Jobs must be registered with AddBackgroundJob
// before Initialize is called.
func New(engine simtime.Engine, threshold simtime.Tick) *JobManager {
	m := &JobManager{engine: engine, threshold: threshold}
	m.eventIdletime = engine.CreateEvent(m.idletimeEvent, "jobmanager.idletime")
	m.rescheduleIdletimeDetection(0)
	return m
}

// AddBackgroundJob registers a job to receive idle-time and user-I/O
// triggers.
func (m *JobManager) AddBackgroundJob(job Job) {
	m.jobs = append(m.jobs, job)
}

// Initialize calls Initialize on every registered job, once FTL bootstrap
// has wired all of them together.
func (m *JobManager) Initialize() {
	for _, j := range m.jobs {
		j.Initialize()
	}
}

// IsRunning reports whether any registered job is currently active.
func (m *JobManager) IsRunning() bool {
	for _, j := range m.jobs {
		if j.IsRunning() {
			return true
		}
	}
	return false
}

// TriggerByUser fans when out to every job (stopping at the first one that
// becomes running, since exactly one background job is expected to act on
// any given trigger) and updates the idle-time bookkeeping: mapping-phase
// triggers defer the idle timer (a request just arrived), completion
// triggers restart it (the SSD may now go idle).
func (m *JobManager) TriggerByUser(when TriggerType, req *request.Request) {
	now := uint64(m.engine.Now())

	for _, j := range m.jobs {
		j.TriggerByUser(when, req)
		if j.IsRunning() {
			break
		}
	}

	switch when {
	case ReadMapping, WriteMapping:
		m.markUserMapping(now)
		m.descheduleIdletimeDetection()
	case ReadComplete, WriteComplete:
		m.markUserComplete(now)
		m.rescheduleIdletimeDetection(now)
	}
}

func (m *JobManager) idletimeEvent(now simtime.Tick, _ uint64) {
	m.stat.count++
	for _, j := range m.jobs {
		j.TriggerByIdle(uint64(now), noDeadline)
	}
}

// rescheduleIdletimeDetection pushes the idle-timer deadline out to
// now+threshold, but only if that is later than whatever is already
// pending — repeated completions before the timer fires must not keep
// pulling the deadline backward.
func (m *JobManager) rescheduleIdletimeDetection(now uint64) {
	tick := now + uint64(m.threshold)
	if m.lastScheduledAt >= tick {
		return
	}
	m.lastScheduledAt = tick
	m.engine.Schedule(m.eventIdletime, m.threshold, 0)
}

func (m *JobManager) descheduleIdletimeDetection() {
	m.lastScheduledAt = 0
	m.engine.Deschedule(m.eventIdletime)
}

func (m *JobManager) markUserComplete(now uint64) {
	m.lastCompleteAt = now
}

// markUserMapping accounts the gap since the last completion as either
// idle time a background job could have used (usable) or idle time the
// threshold swallowed before any job got to react (wasted).
func (m *JobManager) markUserMapping(now uint64) {
	if m.lastCompleteAt == 0 {
		return
	}
	if now <= m.lastScheduledAt {
		m.stat.wasted += now - m.lastCompleteAt
	} else {
		m.stat.usable += now - m.lastScheduledAt
	}
	m.lastCompleteAt = 0
}

// Stats mirrors BasicJobManager::getStatValues' manager-level fields
// (per-job stats live on each job's own Stats type).
type Stats struct {
	JobCount uint64
	Count    uint64
	Usable   uint64
	Wasted   uint64
}

func (m *JobManager) GetStats() Stats {
	return Stats{
		JobCount: uint64(len(m.jobs)),
		Count:    m.stat.count,
		Usable:   m.stat.usable,
		Wasted:   m.stat.wasted,
	}
}
