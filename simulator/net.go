package simulator

import (
	"math/rand"
	"sync"
)

// A Port is a process's point of communication on a network.
// Messages are sent from Ports and received on Ports.
type Port struct {
	// Incoming is a stream of *Message objects.
	Incoming *EventStream
}

// NewPort creates a Port whose Incoming stream belongs to the loop.
func NewPort(loop *EventLoop) *Port {
	return &Port{Incoming: loop.Stream()}
}

// Recv receives the next message sent to the port.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is an addressed chunk of data sent between ports.
// A Message is transient: it is created at send time and consumed by the
// matching receive.
type Message struct {
	Source  *Port
	Dest    *Port
	Payload interface{}
	Size    float64
}

// A Network is an abstract way of communicating between ports.
type Network interface {
	// Send delivers messages to their destination ports'
	// Incoming streams.
	//
	// Send is a buffered, non-blocking operation: it
	// returns before a matching receive is guaranteed to
	// have been posted, and it never reports back-pressure.
	//
	// Implementations must deliver messages between a
	// specific ordered (source, dest) pair in send order.
	// No ordering is guaranteed across different pairs.
	Send(h *Handle, msgs ...*Message)
}

// An InstantNetwork delivers every message with zero latency.
//
// Per-pair ordering follows from the loop firing equal-deadline timers in
// schedule order.
type InstantNetwork struct{}

// Send schedules the messages for immediate delivery.
func (InstantNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, 0)
	}
}

// A FIFONetwork assigns each message a transfer time plus a random
// latency, while still delivering messages between the same ordered
// (source, dest) pair in send order.
//
// Messages on different pairs are reordered freely by the jitter, which
// makes the network useful for shaking out protocol code that silently
// depends on cross-pair timing.
type FIFONetwork struct {
	// Rate is the transfer rate in bytes per unit of
	// virtual time.
	Rate float64

	// MaxJitter is the upper bound of the uniformly random
	// latency added to every message.
	MaxJitter float64

	lock        sync.Mutex
	lastArrival map[pair]float64
}

type pair struct {
	src, dst *Port
}

// NewFIFONetwork creates a FIFONetwork.
func NewFIFONetwork(rate, maxJitter float64) *FIFONetwork {
	return &FIFONetwork{
		Rate:        rate,
		MaxJitter:   maxJitter,
		lastArrival: map[pair]float64{},
	}
}

// Send schedules the messages, clamping each arrival so it never
// overtakes an earlier send on the same (source, dest) pair.
func (f *FIFONetwork) Send(h *Handle, msgs ...*Message) {
	f.lock.Lock()
	defer f.lock.Unlock()

	now := h.Time()
	for _, msg := range msgs {
		arrival := now + msg.Size/f.Rate + rand.Float64()*f.MaxJitter
		key := pair{src: msg.Source, dst: msg.Dest}
		if last, ok := f.lastArrival[key]; ok && last > arrival {
			arrival = last
		}
		f.lastArrival[key] = arrival
		h.Schedule(msg.Dest.Incoming, msg, arrival-now)
	}
}
