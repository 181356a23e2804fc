package hcube

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/hypercube/simulator"
)

// Message tags. Per-pair transport ordering, not per-round tags, is what
// keeps round traffic between a fixed pair of workers from interleaving;
// the only tag the protocol actually matches on is TagFinal.
const (
	TagValue = 0
	TagFinal = 42
)

// frameSize approximates the wire size of one protocol message: an
// 8-byte payload plus a tag byte.
const frameSize = 9

// A frame is the payload of every protocol message.
type frame struct {
	tag   int
	value float64
}

// A ProcessContext identifies a process within a fixed-membership
// ensemble. It is immutable for the process lifetime and passed
// explicitly into every operation.
type ProcessContext struct {
	// Rank is the process's unique integer identity,
	// assigned at ensemble construction.
	Rank int

	// Size is the total number of launched processes.
	Size int
}

// A Cluster owns the communication endpoints of a fixed ensemble of
// processes over a Network, and funnels every Fatal into a single
// ensemble-wide abort.
type Cluster struct {
	// ID distinguishes this run's diagnostics from those of
	// other runs sharing a log stream.
	ID string

	loop    *simulator.EventLoop
	network simulator.Network
	ports   []*simulator.Port
	aborts  []*simulator.EventStream

	lock  sync.Mutex
	fatal *Fatal
}

// NewCluster creates the ports and abort streams for size ranks.
func NewCluster(loop *simulator.EventLoop, network simulator.Network, size int) *Cluster {
	c := &Cluster{
		ID:      uuid.NewString(),
		loop:    loop,
		network: network,
		ports:   make([]*simulator.Port, size),
		aborts:  make([]*simulator.EventStream, size),
	}
	for i := range c.ports {
		c.ports[i] = simulator.NewPort(loop)
		c.aborts[i] = loop.Stream()
	}
	return c
}

// Size gets the number of launched processes.
func (cl *Cluster) Size() int {
	return len(cl.ports)
}

// Start runs role as the given rank in its own loop Goroutine.
// A non-nil Fatal from role aborts the whole ensemble.
func (cl *Cluster) Start(rank int, role func(c *Comm) *Fatal) {
	cl.loop.Go(func(h *simulator.Handle) {
		c := &Comm{
			Ctx:     ProcessContext{Rank: rank, Size: cl.Size()},
			cluster: cl,
			h:       h,
		}
		if f := role(c); f != nil {
			cl.Abort(h, f)
		}
	})
}

// Abort records the first Fatal of the run and signals every process to
// terminate. In-flight messages are not cleaned up, and the recorded
// Fatal never changes once set.
func (cl *Cluster) Abort(h *simulator.Handle, f *Fatal) {
	cl.lock.Lock()
	first := cl.fatal == nil
	if first {
		cl.fatal = f
	}
	cl.lock.Unlock()
	if !first {
		return
	}
	for _, stream := range cl.aborts {
		h.Schedule(stream, f, 0)
	}
}

// Err returns the Fatal that aborted the ensemble, or nil.
func (cl *Cluster) Err() *Fatal {
	cl.lock.Lock()
	defer cl.lock.Unlock()
	return cl.fatal
}

func (cl *Cluster) rankOf(p *simulator.Port) int {
	for i, port := range cl.ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

// A Comm is one process's handle on the cluster's transport.
type Comm struct {
	// Ctx is the process's immutable identity.
	Ctx ProcessContext

	cluster *Cluster
	h       *simulator.Handle

	// backlog holds arrivals that did not match an earlier
	// receive; they are re-examined first, in arrival
	// order, by every later receive.
	backlog []arrival
}

type arrival struct {
	src   int
	frame frame
}

// Send issues a buffered send of value to the dst rank. It returns to
// the caller without waiting for a matching receive.
func (c *Comm) Send(dst, tag int, value float64) *Fatal {
	if dst < 0 || dst >= c.Ctx.Size {
		return &Fatal{
			Rank: c.Ctx.Rank,
			Code: CodeTransport,
			Op:   "send",
			Err:  fmt.Errorf("no such rank (%d)", dst),
		}
	}
	if c.cluster.Err() != nil {
		return &Fatal{Rank: c.Ctx.Rank, Code: CodeTransport, Op: "send", Err: ErrAborted}
	}
	c.cluster.network.Send(c.h, &simulator.Message{
		Source:  c.cluster.ports[c.Ctx.Rank],
		Dest:    c.cluster.ports[dst],
		Payload: frame{tag: tag, value: value},
		Size:    frameSize,
	})
	return nil
}

// Recv blocks until the next value from the src rank arrives. Values
// from a fixed sender are returned in send order.
func (c *Comm) Recv(src int) (float64, *Fatal) {
	a, f := c.recv("recv", func(a arrival) bool {
		return a.src == src
	})
	return a.frame.value, f
}

// RecvTag blocks until the next value carrying tag arrives from any
// source, and reports which rank sent it.
func (c *Comm) RecvTag(tag int) (float64, int, *Fatal) {
	a, f := c.recv("recv", func(a arrival) bool {
		return a.frame.tag == tag
	})
	return a.frame.value, a.src, f
}

func (c *Comm) recv(op string, match func(arrival) bool) (arrival, *Fatal) {
	for i, a := range c.backlog {
		if match(a) {
			essentials.OrderedDelete(&c.backlog, i)
			return a, nil
		}
	}

	port := c.cluster.ports[c.Ctx.Rank]
	abort := c.cluster.aborts[c.Ctx.Rank]
	for {
		event := c.h.Poll(abort, port.Incoming)
		if event.Stream == abort {
			return arrival{}, &Fatal{Rank: c.Ctx.Rank, Code: CodeTransport, Op: op, Err: ErrAborted}
		}
		msg := event.Message.(*simulator.Message)
		a := arrival{src: c.cluster.rankOf(msg.Source), frame: msg.Payload.(frame)}
		if match(a) {
			return a, nil
		}
		c.backlog = append(c.backlog, a)
	}
}
