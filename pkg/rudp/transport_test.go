package rudp

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/dlib/dlog"

	"github.com/keyxcode/cs340-networking/pkg/lossyudp"
)

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Chunk = 16
	cfg.Window = 8
	cfg.AckTimeout = 15 * time.Millisecond
	cfg.GracePeriod = 20 * time.Millisecond
	cfg.ReadPollInterval = 2 * time.Millisecond
	cfg.MaxFinRetries = 200
	return cfg
}

// newTestPair wires two Transports over a lossyudp.NewSimulatedPair,
// applying simA/simB fault injection to each direction independently.
func newTestPair(t *testing.T, cfg Config, simA, simB lossyudp.SimConfig) (client, server *Transport) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	chA, chB := lossyudp.NewSimulatedPair(simA, simB)

	reg := prometheus.NewRegistry()
	client, err := newTransport(ctx, chA, cfg, WithRegisterer(reg))
	require.NoError(t, err)
	server, err = newTransport(ctx, chB, cfg, WithRegisterer(reg))
	require.NoError(t, err)

	t.Cleanup(func() {
		// Best-effort, order-independent shutdown: stopping the channels
		// unblocks both receive loops regardless of which side's Close
		// (with its FIN handshake) already ran.
		client.ch.StopRecv()
		server.ch.StopRecv()
		client.cancel()
		server.cancel()
		_ = client.g.Wait()
		_ = server.g.Wait()
	})
	return client, server
}

func readAll(ctx context.Context, t *testing.T, tr *Transport, want int) []byte {
	t.Helper()
	var buf bytes.Buffer
	for buf.Len() < want {
		b, err := tr.Read(ctx)
		require.NoError(t, err)
		buf.Write(b)
	}
	return buf.Bytes()
}

// Scenario 1 (spec.md §8): no loss, one call, one read.
func TestEndToEndNoLoss(t *testing.T) {
	client, server := newTestPair(t, fastTestConfig(), lossyudp.SimConfig{}, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Submit([]byte("hello world")))
	got := readAll(ctx, t, server, len("hello world"))
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, client.Close(ctx))
}

// Scenario 2 (spec.md §8): a 10,000-byte buffer chunked at 1024 bytes,
// ceil(10000/1024) = 10 DATA packets, no loss.
func TestEndToEndMultiChunk(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Chunk = 1024
	client, server := newTestPair(t, cfg, lossyudp.SimConfig{}, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, client.Submit(data))

	got := readAll(ctx, t, server, len(data))
	assert.Equal(t, data, got)
	assert.Equal(t, 10, client.snd.queueLen(), "ceil(10000/1024) == 10 DATA packets")

	require.NoError(t, client.Close(ctx))
}

// Scenario 3 (spec.md §8): uniform 30% independent packet drop, byte-perfect
// delivery, close() returns within a bounded time.
func TestEndToEndUniformDrop(t *testing.T) {
	cfg := fastTestConfig()
	sim := lossyudp.SimConfig{DropRate: 0.3, Rand: rand.New(rand.NewSource(42))}
	simB := lossyudp.SimConfig{DropRate: 0.3, Rand: rand.New(rand.NewSource(43))}
	client, server := newTestPair(t, cfg, sim, simB)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, client.Submit(data))

	got := readAll(ctx, t, server, len(data))
	assert.Equal(t, data, got)

	require.NoError(t, client.Close(ctx))
}

// Scenario 4 (spec.md §8): datagrams permuted within a sliding window;
// delivery must still land in order.
func TestEndToEndReordering(t *testing.T) {
	cfg := fastTestConfig()
	sim := lossyudp.SimConfig{ReorderWindow: 5, Rand: rand.New(rand.NewSource(7))}
	client, server := newTestPair(t, cfg, sim, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, client.Submit(data))

	got := readAll(ctx, t, server, len(data))
	assert.Equal(t, data, got)

	require.NoError(t, client.Close(ctx))
}

// Scenario 5 (spec.md §8): every tenth datagram duplicated; no duplicates
// should appear in the reader output.
func TestEndToEndDuplication(t *testing.T) {
	cfg := fastTestConfig()
	sim := lossyudp.SimConfig{DuplicateEvery: 10}
	client, server := newTestPair(t, cfg, sim, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, client.Submit(data))

	got := readAll(ctx, t, server, len(data))
	assert.Equal(t, data, got)

	require.NoError(t, client.Close(ctx))
}

// Scenario 6 (spec.md §8): every 50th datagram has a bit flipped; no
// corruption reaches the reader, retransmission fills the gaps.
func TestEndToEndCorruption(t *testing.T) {
	cfg := fastTestConfig()
	sim := lossyudp.SimConfig{CorruptEvery: 50, Rand: rand.New(rand.NewSource(99))}
	client, server := newTestPair(t, cfg, sim, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data := make([]byte, 6000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, client.Submit(data))

	got := readAll(ctx, t, server, len(data))
	assert.Equal(t, data, got)

	require.NoError(t, client.Close(ctx))
}

// TestCloseIsBoundedWhenPeerNeverFinAcks exercises the permitted extension
// of spec.md §4.4/§7: once data is fully acked, if the peer goes dark
// before answering FIN, close() gives up after MaxFinRetries instead of
// blocking forever.
func TestCloseIsBoundedWhenPeerNeverFinAcks(t *testing.T) {
	cfg := fastTestConfig()
	cfg.MaxFinRetries = 3
	client, server := newTestPair(t, cfg, lossyudp.SimConfig{}, lossyudp.SimConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Submit([]byte("x")))
	_ = readAll(ctx, t, server, 1) // let the data get delivered and acked

	for !client.snd.allAcked() {
		time.Sleep(time.Millisecond)
	}

	// The peer goes dark: it stops answering anything, including our FIN.
	server.ch.StopRecv()
	server.cancel()
	require.NoError(t, server.g.Wait())

	err := client.Close(ctx)
	require.Error(t, err, "close must give up and report peer unreachable rather than block forever")
}
