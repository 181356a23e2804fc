// Package simulator provides a virtual-time event loop for running a
// fixed ensemble of communicating processes inside a single OS process.
//
// Each simulated process is a Goroutine started with EventLoop.Go().
// Processes communicate exclusively by scheduling events on streams and
// blocking on Poll(), so the loop can advance a virtual clock without any
// real-time waiting.
package simulator

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/unixpickle/essentials"
)

// An EventStream is a uni-directional channel of events that are passed
// through an EventLoop.
//
// It is only safe to use an EventStream on one EventLoop at once.
type EventStream struct {
	loop    *EventLoop
	pending []interface{}
}

// An Event is a message received on some EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer represents a single event delivery that will happen in the
// (virtual) future.
type Timer struct {
	time  float64
	seq   uint64
	index int
	event *Event
}

// Time gets the virtual time when the timer will fire.
//
// If the loop's clock is below a timer's Time(), it is guaranteed that
// the timer has not fired.
func (t *Timer) Time() float64 {
	return t.time
}

// timerQueue orders timers by deadline. Timers with equal deadlines fire
// in the order they were scheduled, which is what gives networks built on
// the loop their per-pair in-order delivery guarantee.
type timerQueue []*Timer

func (q timerQueue) Len() int {
	return len(q)
}

func (q timerQueue) Less(i, j int) bool {
	if q[i].time == q[j].time {
		return q[i].seq < q[j].seq
	}
	return q[i].time < q[j].time
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	t := old[len(old)-1]
	t.index = -1
	*q = old[:len(old)-1]
	return t
}

// A Handle is a Goroutine's mechanism for accessing an EventLoop.
// Goroutines should not share Handles.
type Handle struct {
	*EventLoop

	// These fields are empty while the Goroutine is not
	// polling on any streams.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll blocks until the next event arrives on one of the streams.
//
// If events are already pending on several of the streams, the
// earliest-listed stream wins.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyScheduling(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule creates a Timer that delivers msg on the stream after delay
// units of virtual time. It never blocks.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			seq:   h.seq,
			event: &Event{Message: msg, Stream: stream},
		}
		h.seq++
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		heap.Push(&h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if it has not fired yet.
//
// If the timer already fired or was canceled, this has no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		if t.index >= 0 {
			heap.Remove(&h.timers, t.index)
		}
	})
}

// Sleep waits for a certain amount of virtual time to elapse.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop is a global scheduler for events in a simulated
// distributed system.
//
// All Goroutines which access an EventLoop should be started with the
// EventLoop.Go() method. The loop only advances its clock while every
// active Goroutine is polling for an event, so simulated processes never
// have to worry about real timing while computing.
type EventLoop struct {
	lock    sync.Mutex
	timers  timerQueue
	handles []*Handle
	seq     uint64

	time float64

	running bool
	wake    chan struct{}
}

// NewEventLoop creates an event loop with its clock at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs f in a Goroutine and passes it a new Handle on the loop.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyScheduling(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
	}()
}

// Run runs the loop and blocks until all Goroutines started with Go()
// have returned.
//
// It is not safe to run the loop from more than one Goroutine at once.
//
// Returns an error if the ensemble deadlocks: every live Goroutine is
// polling and no timer can satisfy any of them.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.wake {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f with the loop locked.
//
// This assumes f does not change which Goroutines can make progress.
// If it can, use modifyScheduling.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyScheduling is like modify(), but it wakes the loop afterwards
// because f may have changed the set of runnable Goroutines.
func (e *EventLoop) modifyScheduling(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}()
	f()
}

// step fires timers until one of them unblocks a polling Goroutine.
//
// The first return value is false once the loop can no longer run; the
// second reports whether that is due to a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// Do not advance the clock while a Goroutine
			// is doing work in real time.
			return true, nil
		}
	}

	for e.timers.Len() > 0 {
		timer := heap.Pop(&e.timers).(*Timer)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("deadlock: all Goroutines are polling")
}

// deliver hands the event to a Goroutine polling on its stream, or
// queues it on the stream if nobody is listening yet.
func (e *EventLoop) deliver(event *Event) bool {
	for _, h := range e.handles {
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
