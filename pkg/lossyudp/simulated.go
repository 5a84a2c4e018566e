package lossyudp

import (
	"context"
	"math/rand"
	"net"
)

// SimConfig controls the fault injection a SimulatedPair applies to every
// datagram in transit, exercising the scenarios of spec.md §8: uniform
// drop, duplication, reordering within a window, and single-bit corruption.
type SimConfig struct {
	// DropRate is the independent probability [0,1] that a datagram is dropped.
	DropRate float64
	// DuplicateEvery repeats every Nth datagram once. Zero disables duplication.
	DuplicateEvery int
	// CorruptEvery flips a random bit in every Nth datagram. Zero disables corruption.
	CorruptEvery int
	// ReorderWindow buffers up to N datagrams and emits them in a random
	// permutation of arrival order. Zero or one disables reordering.
	ReorderWindow int
	// Rand is the source of randomness; defaults to a new source with the
	// fixed seed 1 if nil.
	Rand *rand.Rand
}

// link is one direction of a SimulatedPair: a buffered mailbox plus a
// counter-driven fault injector, grounded on the teacher's uni/bidi
// in-memory stream mocks in pkg/tunnel/stream_test.go.
type link struct {
	ch     chan []byte
	cfg    SimConfig
	rnd    *rand.Rand
	count  int
	pend   [][]byte
	closed chan struct{}
}

func newLink(cfg SimConfig) *link {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &link{ch: make(chan []byte, 256), cfg: cfg, rnd: rnd, closed: make(chan struct{})}
}

func (l *link) deliver(b []byte) {
	l.count++
	c := l.cfg

	if c.DropRate > 0 && l.rnd.Float64() < c.DropRate {
		return
	}

	out := make([]byte, len(b))
	copy(out, b)
	if c.CorruptEvery > 0 && l.count%c.CorruptEvery == 0 && len(out) > 0 {
		idx := l.rnd.Intn(len(out))
		out[idx] ^= 1 << uint(l.rnd.Intn(8))
	}

	l.enqueue(out)
	if c.DuplicateEvery > 0 && l.count%c.DuplicateEvery == 0 {
		dup := make([]byte, len(out))
		copy(dup, out)
		l.enqueue(dup)
	}
}

// enqueue applies reordering: datagrams are held in pend until ReorderWindow
// is reached, then emitted in a shuffled order.
func (l *link) enqueue(b []byte) {
	if l.cfg.ReorderWindow <= 1 {
		select {
		case l.ch <- b:
		case <-l.closed:
		}
		return
	}
	l.pend = append(l.pend, b)
	if len(l.pend) < l.cfg.ReorderWindow {
		return
	}
	l.flush()
}

func (l *link) flush() {
	l.rnd.Shuffle(len(l.pend), func(i, j int) { l.pend[i], l.pend[j] = l.pend[j], l.pend[i] })
	for _, b := range l.pend {
		select {
		case l.ch <- b:
		case <-l.closed:
		}
	}
	l.pend = l.pend[:0]
}

func (l *link) recv(ctx context.Context) ([]byte, error) {
	select {
	case <-l.closed:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-l.ch:
		return b, nil
	}
}

func (l *link) stop() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// simChannel is a Channel whose Send injects faults via outbound before the
// datagram reaches the peer's inbound link.
type simChannel struct {
	outbound *link
	inbound  *link
	addr     simAddr
}

type simAddr string

func (a simAddr) Network() string { return "sim" }
func (a simAddr) String() string  { return string(a) }

func (c *simChannel) Send(b []byte) error {
	if len(b) > MaxDatagramSize {
		return ErrDatagramTooLarge
	}
	c.outbound.deliver(b)
	return nil
}

func (c *simChannel) Recv(ctx context.Context) ([]byte, error) {
	return c.inbound.recv(ctx)
}

func (c *simChannel) LocalAddr() net.Addr { return c.addr }

func (c *simChannel) StopRecv() { c.inbound.stop() }

func (c *simChannel) Close() error {
	c.inbound.stop()
	return nil
}

// NewSimulatedPair returns two Channels, "a" and "b", wired to each other
// through fault injectors configured independently per direction. It lets
// tests drive spec.md §8's scenarios (uniform drop, reordering, duplication,
// corruption) without a real socket.
func NewSimulatedPair(aToB, bToA SimConfig) (Channel, Channel) {
	ab := newLink(aToB)
	ba := newLink(bToA)
	a := &simChannel{outbound: ab, inbound: ba, addr: simAddr("sim:a")}
	b := &simChannel{outbound: ba, inbound: ab, addr: simAddr("sim:b")}
	return a, b
}
