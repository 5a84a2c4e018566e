package rudp

import (
	"crypto/md5" //nolint:gosec // used as an integrity check, not a security primitive
	"encoding/binary"
	"fmt"

	"github.com/keyxcode/cs340-networking/internal/errkind"
)

// digestSize is the width of the MD5 digest prepended to every datagram.
const digestSize = 16

// headerBodySize is the size of (seq ‖ ack_flag ‖ fin_flag), not counting the digest.
const headerBodySize = 4 + 1 + 1

// headerSize is the full fixed-size prefix of every datagram: digest ‖ header body.
const headerSize = digestSize + headerBodySize

// noAckSentinel is the wire value carried by an ACK when the receiver has not
// yet accepted sequence 0, i.e. last_inorder_seq == -1. See spec.md §9: the
// sentinel must never collide with a real "received up to" value, which it
// can't at any realistic CHUNK/WINDOW size.
const noAckSentinel uint32 = 0xFFFFFFFF

// kind is the tagged-variant decoding of a packet's two boolean flags,
// following spec.md §9's "dynamic dispatch → tagged variants" guidance.
type kind int

const (
	kindData kind = iota
	kindAck
	kindFin
	kindFinAck
)

func (k kind) String() string {
	switch k {
	case kindData:
		return "DATA"
	case kindAck:
		return "ACK"
	case kindFin:
		return "FIN"
	case kindFinAck:
		return "FIN_ACK"
	default:
		return "UNKNOWN"
	}
}

// packet is the decoded form of a single datagram, addressable by its kind
// without re-inspecting the raw flags.
type packet struct {
	seq     uint32
	ackFlag bool
	finFlag bool
	payload []byte
}

func (p *packet) kind() kind {
	switch {
	case p.ackFlag && p.finFlag:
		return kindFinAck
	case p.ackFlag:
		return kindAck
	case p.finFlag:
		return kindFin
	default:
		return kindData
	}
}

// ackValue interprets p's seq field as a cumulative ACK: -1 (sentinel) if
// the peer has nothing yet, otherwise the highest contiguous sequence
// accepted.
func (p *packet) ackValue() int64 {
	if p.seq == noAckSentinel {
		return -1
	}
	return int64(p.seq)
}

func newDataPacket(seq uint32, payload []byte) *packet {
	return &packet{seq: seq, payload: payload}
}

// newAckPacket builds a cumulative ACK carrying lastInorderSeq, or the
// sentinel if lastInorderSeq is -1 (nothing received yet).
func newAckPacket(lastInorderSeq int64) *packet {
	seq := noAckSentinel
	if lastInorderSeq >= 0 {
		seq = uint32(lastInorderSeq)
	}
	return &packet{seq: seq, ackFlag: true}
}

// newFinPacket builds a FIN with the unused seq field fixed to 0 per spec.md §9.
func newFinPacket() *packet {
	return &packet{seq: 0, finFlag: true}
}

// newFinAckPacket builds a FIN-ACK in reply to a received FIN.
func newFinAckPacket() *packet {
	return &packet{seq: 0, ackFlag: true, finFlag: true}
}

// build packs p into the wire format of spec.md §3: digest ‖ seq ‖ ack_flag ‖
// fin_flag ‖ payload, digest = MD5(seq ‖ ack_flag ‖ fin_flag ‖ payload).
func (p *packet) build() ([]byte, error) {
	if p.ackFlag && len(p.payload) > 0 {
		return nil, errkind.BuildPacketFailure.Newf("rudp: ACK/FIN-ACK packet seq %d carries a non-empty payload", p.seq)
	}
	if p.finFlag && len(p.payload) > 0 {
		return nil, errkind.BuildPacketFailure.Newf("rudp: FIN packet seq %d carries a non-empty payload", p.seq)
	}

	body := make([]byte, headerBodySize+len(p.payload))
	binary.BigEndian.PutUint32(body[0:4], p.seq)
	body[4] = boolByte(p.ackFlag)
	body[5] = boolByte(p.finFlag)
	copy(body[headerBodySize:], p.payload)

	digest := md5.Sum(body) //nolint:gosec
	out := make([]byte, digestSize+len(body))
	copy(out, digest[:])
	copy(out[digestSize:], body)
	return out, nil
}

// parsePacket unpacks a raw datagram, validating its digest. It returns
// errkind.CorruptPacket for anything that fails to validate: too short to
// contain a header, or a digest mismatch.
func parsePacket(raw []byte) (*packet, error) {
	if len(raw) < headerSize {
		return nil, errkind.CorruptPacket.Newf("rudp: datagram of %d bytes is shorter than the %d-byte header", len(raw), headerSize)
	}
	wantDigest := raw[:digestSize]
	body := raw[digestSize:]

	gotDigest := md5.Sum(body) //nolint:gosec
	if !digestsEqual(wantDigest, gotDigest[:]) {
		return nil, errkind.CorruptPacket.New("rudp: digest mismatch")
	}

	seq := binary.BigEndian.Uint32(body[0:4])
	ackFlag, err := parseBoolByte(body[4])
	if err != nil {
		return nil, errkind.CorruptPacket.New(err)
	}
	finFlag, err := parseBoolByte(body[5])
	if err != nil {
		return nil, errkind.CorruptPacket.New(err)
	}

	var payload []byte
	if n := len(body) - headerBodySize; n > 0 {
		payload = make([]byte, n)
		copy(payload, body[headerBodySize:])
	}

	return &packet{seq: seq, ackFlag: ackFlag, finFlag: finFlag, payload: payload}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func parseBoolByte(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("rudp: flag byte %#x is neither 0x00 nor 0x01", b)
	}
}

func digestsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
