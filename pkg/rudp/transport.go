// Package rudp implements the reliable, ordered, byte-stream transport of
// spec.md: a sliding-window sender, a reordering-resistant receiver, an
// ACK-driven retransmission timer, and a handshake-based teardown, all
// running atop an unreliable datagram channel (pkg/lossyudp).
package rudp

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyxcode/cs340-networking/internal/errkind"
	"github.com/keyxcode/cs340-networking/pkg/lossyudp"
)

// Transport is the Core API of spec.md §6: New, Submit, Read, Close.
type Transport struct {
	id  uuid.UUID
	cfg Config
	ch  lossyudp.Channel
	snd *sender
	rcv *receiver
	met *metrics

	finAcked int32 // atomic bool
	closed   int32 // atomic bool

	g      *dgroup.Group
	loopCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a Transport at construction time.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers this Transport's metrics into reg instead of the
// default global Prometheus registry, letting callers run several
// Transports in one process without colliding metric labels.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New binds a UDP channel between srcAddr (empty means any interface, any
// free port) and dstAddr, and starts the sender and receiver background
// loops (spec.md §6's `new`).
func New(ctx context.Context, dstAddr, srcAddr string, cfg Config, opts ...Option) (*Transport, error) {
	ch, err := lossyudp.Bind(srcAddr, dstAddr)
	if err != nil {
		return nil, err
	}
	t, err := newTransport(ctx, ch, cfg, opts...)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return t, nil
}

// newTransport wires a Transport around an already-bound Channel. It is
// unexported; package tests call it directly to drive a Transport over
// lossyudp.NewSimulatedPair instead of a real socket.
func newTransport(ctx context.Context, ch lossyudp.Channel, cfg Config, opts ...Option) (*Transport, error) {
	cfg = cfg.withDefaults()

	o := &options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}

	id := uuid.New()
	ctx = dlog.WithField(ctx, "conn", id.String())
	met := newMetrics(o.registerer, id.String())

	loopCtx, cancel := context.WithCancel(ctx)
	t := &Transport{
		id:      id,
		cfg:     cfg,
		ch:      ch,
		snd:     newSender(cfg, met),
		rcv:     newReceiver(cfg, met),
		met:     met,
		loopCtx: loopCtx,
		cancel:  cancel,
	}

	t.g = dgroup.NewGroup(loopCtx, dgroup.GroupConfig{})
	t.g.Go("sender", func(ctx context.Context) error {
		return t.snd.retransmitLoop(ctx, t.ch.Send)
	})
	t.g.Go("receiver", func(ctx context.Context) error {
		return t.receiveLoop(ctx)
	})

	dlog.Debugf(ctx, "rudp: transport started")
	return t, nil
}

// Submit enqueues data for reliable delivery. It returns once the chunks
// are queued; it never waits for acknowledgment (spec.md §4.2).
func (t *Transport) Submit(data []byte) error {
	return t.snd.submit(data)
}

// Read blocks until at least one byte is deliverable, then returns one or
// more contiguous payloads (spec.md §4.3).
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	return t.rcv.read(ctx)
}

// receiveLoop is the receiver's background task (spec.md §4.3 and §5): it
// dispatches every incoming datagram by kind and never lets one bad
// datagram or decode panic end the loop (spec.md §7's ListenerDied policy).
func (t *Transport) receiveLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := t.receiveOne(ctx); err != nil {
			if errkind.Is(err, errkind.ChannelClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
	return nil
}

func (t *Transport) receiveOne(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "rudp: receiver: %v", errkind.ListenerDied.New(r))
		}
	}()

	raw, recvErr := t.ch.Recv(ctx)
	if recvErr != nil {
		if recvErr == lossyudp.ErrStopped {
			return errkind.ChannelClosed.New(recvErr)
		}
		if ctx.Err() != nil {
			return errkind.ChannelClosed.New(recvErr)
		}
		dlog.Errorf(ctx, "rudp: receiver: %v", errkind.ListenerDied.New(recvErr))
		return nil
	}

	pkt, parseErr := parsePacket(raw)
	if parseErr != nil {
		t.met.corruptDropped.Inc()
		dlog.Debugf(ctx, "rudp: receiver: dropping %v", parseErr)
		return nil
	}

	switch pkt.kind() {
	case kindFinAck:
		atomic.StoreInt32(&t.finAcked, 1)
	case kindAck:
		t.snd.onAck(pkt.ackValue())
	case kindFin:
		t.sendRaw(ctx, newFinAckPacket())
	case kindData:
		ackSeq := t.rcv.admit(pkt.seq, pkt.payload)
		t.sendRaw(ctx, newAckPacket(ackSeq))
	}
	return nil
}

func (t *Transport) sendRaw(ctx context.Context, p *packet) {
	built, err := p.build()
	if err != nil {
		dlog.Errorf(ctx, "rudp: %v", err)
		return
	}
	if err := t.ch.Send(built); err != nil {
		dlog.Errorf(ctx, "rudp: send failed: %v", err)
		return
	}
	t.met.packetsSent.Inc()
}

// Close blocks until all submitted data is acknowledged, exchanges the
// FIN/FIN-ACK teardown handshake, dwells for the grace period, and stops
// the background loops (spec.md §4.4).
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}

	for !t.snd.allAcked() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dtime.SleepWithContext(ctx, t.cfg.ReadPollInterval)
	}

	if err := t.sendFinAndWait(ctx); err != nil {
		return err
	}

	dtime.SleepWithContext(ctx, t.cfg.GracePeriod)

	t.rcv.stop()
	t.cancel()
	t.ch.StopRecv()
	_ = t.g.Wait()
	return t.ch.Close()
}

// sendFinAndWait implements the FIN stop-and-wait loop of spec.md §4.4,
// bounded by Config.MaxFinRetries (the permitted "peer unreachable"
// extension spec.md §7 allows).
func (t *Transport) sendFinAndWait(ctx context.Context) error {
	fin, err := newFinPacket().build()
	if err != nil {
		return err
	}

	attempt := 0
	for {
		if err := t.ch.Send(fin); err != nil {
			dlog.Errorf(ctx, "rudp: close: failed to send FIN: %v", err)
		}
		attempt++

		if t.waitForFinAck(ctx, t.cfg.AckTimeout) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.cfg.MaxFinRetries > 0 && attempt >= t.cfg.MaxFinRetries {
			return errkind.PeerUnreachable.Newf("rudp: close: peer did not FIN-ACK after %d attempts", attempt)
		}
	}
}

// waitForFinAck polls finAcked for up to timeout, the way muxtunnel.sync()
// polls lastAck, returning true as soon as a FIN-ACK has been observed.
func (t *Transport) waitForFinAck(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&t.finAcked) != 0 {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		dtime.SleepWithContext(ctx, t.cfg.ReadPollInterval)
	}
	return atomic.LoadInt32(&t.finAcked) != 0
}
