package rudp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxcode/cs340-networking/internal/errkind"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  *packet
	}{
		{"data", newDataPacket(42, []byte("hello world"))},
		{"data-empty-payload", newDataPacket(0, nil)},
		{"ack", newAckPacket(7)},
		{"ack-sentinel", newAckPacket(-1)},
		{"fin", newFinPacket()},
		{"fin-ack", newFinAckPacket()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw, err := c.pkt.build()
			require.NoError(t, err)

			got, err := parsePacket(raw)
			require.NoError(t, err)
			assert.Equal(t, c.pkt.seq, got.seq)
			assert.Equal(t, c.pkt.ackFlag, got.ackFlag)
			assert.Equal(t, c.pkt.finFlag, got.finFlag)
			assert.Equal(t, c.pkt.payload, got.payload)
			assert.Equal(t, c.pkt.kind(), got.kind())
		})
	}
}

func TestParsePacketRejectsCorruptDigest(t *testing.T) {
	raw, err := newDataPacket(1, []byte("payload")).build()
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0x01 // flip a bit in the payload, digest no longer matches

	_, err = parsePacket(raw)
	require.Error(t, err)
	assert.Equal(t, errkind.CorruptPacket, errkind.GetKind(err))
}

func TestParsePacketRejectsShortDatagram(t *testing.T) {
	_, err := parsePacket([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, errkind.CorruptPacket, errkind.GetKind(err))
}

func TestBuildRejectsPayloadOnControlPackets(t *testing.T) {
	_, err := (&packet{ackFlag: true, payload: []byte("nope")}).build()
	require.Error(t, err)
	assert.Equal(t, errkind.BuildPacketFailure, errkind.GetKind(err))

	_, err = (&packet{finFlag: true, payload: []byte("nope")}).build()
	require.Error(t, err)
	assert.Equal(t, errkind.BuildPacketFailure, errkind.GetKind(err))
}

func TestAckValue(t *testing.T) {
	assert.EqualValues(t, -1, newAckPacket(-1).ackValue())
	assert.EqualValues(t, 0, newAckPacket(0).ackValue())
	assert.EqualValues(t, 12345, newAckPacket(12345).ackValue())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "DATA", kindData.String())
	assert.Equal(t, "ACK", kindAck.String())
	assert.Equal(t, "FIN", kindFin.String())
	assert.Equal(t, "FIN_ACK", kindFinAck.String())
}
