// Package simtime provides the discrete-event engine contract the FTL core
// runs on (spec §6 "Discrete-event engine") and a deterministic in-process
// implementation of it. There is no example in the retrieval pack that ships
// a discrete-event scheduler as a library, so this one small piece — a
// binary-heap priority queue keyed by fire tick — is built on the standard
// library's container/heap; every other scheduling concern in this module
// is layered on top of the Engine interface below, not on container/heap
// directly.
package simtime

import "container/heap"

// Tick is simulated time, in arbitrary engine-defined units.
type Tick uint64

// EventID is a stable handle to a (handler, name) pair. The zero value is
// invalid, mirroring the original engine's "event ID 0 is invalid"
// convention.
type EventID uint64

// InvalidEventID is the sentinel returned by CreateEvent's zero value and
// used by callers to mean "no event wired".
const InvalidEventID EventID = 0

// Handler is invoked when a scheduled event fires, receiving the firing
// tick and the opaque data passed to Schedule.
type Handler func(now Tick, data uint64)

// Engine is the narrow discrete-event contract the FTL core consumes.
type Engine interface {
	Now() Tick
	CreateEvent(handler Handler, name string) EventID
	Schedule(event EventID, delay Tick, data uint64)
	IsScheduled(event EventID) bool
	Deschedule(event EventID)
}

type scheduledItem struct {
	at    Tick
	seq   uint64
	event EventID
	data  uint64
	index int
}

type itemHeap []*scheduledItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*scheduledItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

type registeredEvent struct {
	handler Handler
	name    string
	// pending, when non-nil, is the single outstanding scheduled item for
	// this event ID. The simulator's event identity is per-Event, not
	// per-schedule-call: rescheduling replaces it, matching the FTL job
	// manager's idle timer, which is descheduled and rescheduled by
	// identity rather than accumulating duplicate fires.
	pending *scheduledItem
}

// SimEngine is a deterministic, single-threaded discrete-event engine.
type SimEngine struct {
	now    Tick
	seq    uint64
	events []*registeredEvent
	queue  itemHeap
}

// NewSimEngine constructs an empty engine at tick 0.
func NewSimEngine() *SimEngine {
	e := &SimEngine{
		events: []*registeredEvent{nil}, // index 0 reserved (InvalidEventID)
	}
	heap.Init(&e.queue)
	return e
}

func (e *SimEngine) Now() Tick { return e.now }

func (e *SimEngine) CreateEvent(handler Handler, name string) EventID {
	e.events = append(e.events, &registeredEvent{handler: handler, name: name})
	return EventID(len(e.events) - 1)
}

func (e *SimEngine) lookup(event EventID) *registeredEvent {
	if event == InvalidEventID || int(event) >= len(e.events) {
		panic("simtime: use of invalid EventID")
	}
	return e.events[event]
}

// Schedule fires event at Now()+delay with the given data, replacing any
// previously pending fire of the same event.
func (e *SimEngine) Schedule(event EventID, delay Tick, data uint64) {
	re := e.lookup(event)
	if re.pending != nil {
		e.cancel(re.pending)
	}
	e.seq++
	it := &scheduledItem{at: e.now + delay, seq: e.seq, event: event, data: data}
	re.pending = it
	heap.Push(&e.queue, it)
}

func (e *SimEngine) IsScheduled(event EventID) bool {
	return e.lookup(event).pending != nil
}

func (e *SimEngine) Deschedule(event EventID) {
	re := e.lookup(event)
	if re.pending == nil {
		return
	}
	e.cancel(re.pending)
	re.pending = nil
}

func (e *SimEngine) cancel(it *scheduledItem) {
	if it.index >= 0 {
		heap.Remove(&e.queue, it.index)
	}
}

// Step fires the single next-due event and advances Now() to its tick. It
// reports false when the queue is empty.
func (e *SimEngine) Step() bool {
	if e.queue.Len() == 0 {
		return false
	}
	it := heap.Pop(&e.queue).(*scheduledItem)
	re := e.events[it.event]
	if re.pending == it {
		re.pending = nil
	}
	e.now = it.at
	re.handler(e.now, it.data)
	return true
}

// Run drains the queue, firing events in tick order, until empty or until
// deadline is exceeded by the next-due tick.
func (e *SimEngine) Run(deadline Tick) {
	for e.queue.Len() > 0 && e.queue[0].at <= deadline {
		e.Step()
	}
}
