package rudp

import (
	"bytes"
	"context"
	"sync"

	"github.com/datawire/dlib/dtime"
)

// receiver implements spec.md §4.3: it admits only the next expected DATA
// packet into its delivery buffer, drops everything else, and always
// re-emits a cumulative ACK.
type receiver struct {
	cfg Config

	mu             sync.Mutex
	received       map[uint32][]byte
	lastInorderSeq int64 // -1 initially
	nextReturnSeq  uint32
	closed         bool
	metrics        *metrics
}

func newReceiver(cfg Config, m *metrics) *receiver {
	return &receiver{
		cfg:            cfg,
		received:       make(map[uint32][]byte),
		lastInorderSeq: -1,
		metrics:        m,
	}
}

// admit handles one DATA packet and returns the cumulative ACK value to
// send in reply (spec.md §4.3's "every data packet ... triggers a
// cumulative ACK").
func (r *receiver) admit(seq uint32, payload []byte) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int64(seq) == r.lastInorderSeq+1 {
		r.received[seq] = payload
		r.lastInorderSeq++
	} else {
		r.metrics.outOfOrderDropped.Inc()
	}
	return r.lastInorderSeq
}

// read blocks until at least one contiguous payload starting at
// next_return_seq is available, then returns their concatenation and
// advances the cursor past them (spec.md §4.3's read contract).
func (r *receiver) read(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, context.Canceled
		}
		if _, ok := r.received[r.nextReturnSeq]; ok {
			var buf bytes.Buffer
			for {
				payload, ok := r.received[r.nextReturnSeq]
				if !ok {
					break
				}
				buf.Write(payload)
				delete(r.received, r.nextReturnSeq)
				r.nextReturnSeq++
			}
			r.mu.Unlock()
			return buf.Bytes(), nil
		}
		r.mu.Unlock()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dtime.SleepWithContext(ctx, r.cfg.ReadPollInterval)
	}
}

// stop unblocks any pending read call, used during transport teardown.
func (r *receiver) stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
