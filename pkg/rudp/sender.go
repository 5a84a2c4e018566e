package rudp

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"
)

// sender implements spec.md §4.2: it chunks submitted bytes into numbered
// DATA packets and retransmits the sliding window of unacknowledged ones on
// timeout (Go-Back-N).
type sender struct {
	cfg Config

	mu    sync.Mutex
	queue [][]byte // built, wire-ready DATA packets, indexed by sequence number

	nextSendSeq uint32 // next sequence number to assign; only touched under mu
	maxAckedSeq int64  // atomic; -1 means nothing acked yet

	metrics *metrics
}

func newSender(cfg Config, m *metrics) *sender {
	return &sender{cfg: cfg, maxAckedSeq: -1, metrics: m}
}

// submit chunks data into cfg.Chunk-sized DATA packets and appends them to
// the send queue. It never blocks on the network.
func (s *sender) submit(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for off := 0; off < len(data); off += s.cfg.Chunk {
		end := off + s.cfg.Chunk
		if end > len(data) {
			end = len(data)
		}
		seq := s.nextSendSeq
		s.nextSendSeq++
		built, err := newDataPacket(seq, data[off:end]).build()
		if err != nil {
			return err
		}
		s.queue = append(s.queue, built)
	}
	return nil
}

// onAck folds an incoming cumulative ACK into max_acked_seq. Delivering the
// same or a stale ACK twice is a no-op: max_acked_seq is monotonically
// non-decreasing (spec.md §8, idempotence of ACKs).
func (s *sender) onAck(ackSeq int64) {
	for {
		cur := atomic.LoadInt64(&s.maxAckedSeq)
		if ackSeq <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.maxAckedSeq, cur, ackSeq) {
			return
		}
	}
}

// sendBase returns send_base = max_acked_seq + 1 (spec.md §3 invariant).
func (s *sender) sendBase() int64 {
	return atomic.LoadInt64(&s.maxAckedSeq) + 1
}

// queueLen returns len(send_queue) under lock.
func (s *sender) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// allAcked reports whether every queued packet has been acknowledged, the
// precondition close() blocks on (spec.md §4.4).
func (s *sender) allAcked() bool {
	return int(s.sendBase()) >= s.queueLen()
}

// window returns the currently outstanding window of built packets,
// snapshotted under lock so concurrent submit() calls can't race the loop.
func (s *sender) window() [][]byte {
	base := s.sendBase()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	out := make([][]byte, 0, s.cfg.Window)
	for i := 0; i < s.cfg.Window; i++ {
		idx := int(base) + i
		if idx < 0 || idx >= n {
			break
		}
		out = append(out, s.queue[idx])
	}
	return out
}

// retransmitLoop is the sender's background task (spec.md §4.2). It runs
// until ctx is done, resending the whole outstanding window on every
// ACK_TIMEOUT tick.
func (s *sender) retransmitLoop(ctx context.Context, send func([]byte) error) error {
	for ctx.Err() == nil {
		win := s.window()
		s.metrics.windowOccupancy.Set(float64(len(win)))
		if len(win) > 0 {
			s.metrics.retransmissions.Inc()
		}
		for _, pkt := range win {
			if err := send(pkt); err != nil {
				dlog.Errorf(ctx, "rudp: sender: send failed: %v", err)
				continue
			}
			s.metrics.packetsSent.Inc()
		}
		dtime.SleepWithContext(ctx, s.cfg.AckTimeout)
	}
	return nil
}
