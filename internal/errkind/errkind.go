// Package errkind categorizes the errors the transport can produce so that
// callers and loops can tell a recoverable, locally-absorbed condition from
// one that must be surfaced.
package errkind

import (
	"errors"
	"fmt"
)

// Kind categorizes an error the way spec.md §7 enumerates the transport's
// error kinds.
type Kind int

const (
	// OK is the zero value; GetKind returns it for a nil error.
	OK = Kind(iota)
	// CorruptPacket means a datagram's digest did not match its body. Dropped silently.
	CorruptPacket
	// OutOfOrderPacket means a DATA packet arrived outside the receiver's expected window.
	OutOfOrderPacket
	// ChannelClosed means the underlying datagram channel stopped receiving.
	ChannelClosed
	// BuildPacketFailure means a packet could not be encoded; programmer error, fatal.
	BuildPacketFailure
	// ListenerDied means one receiver-loop iteration failed (a recovered panic or a
	// receive error) and the loop carried on.
	ListenerDied
	// PeerUnreachable means close() exceeded its bounded FIN retry budget.
	PeerUnreachable
	// Unknown is returned by GetKind for errors that were never categorized.
	Unknown
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case CorruptPacket:
		return "CORRUPT_PACKET"
	case OutOfOrderPacket:
		return "OUT_OF_ORDER_PACKET"
	case ChannelClosed:
		return "CHANNEL_CLOSED"
	case BuildPacketFailure:
		return "BUILD_PACKET_FAILURE"
	case ListenerDied:
		return "LISTENER_DIED"
	case PeerUnreachable:
		return "PEER_UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}

type categorized struct {
	error
	kind Kind
}

// New creates a new categorized error from its argument. The argument can be
// an error or a string; anything else is formatted with '%v'.
func (k Kind) New(untypedErr interface{}) error {
	var err error
	switch untypedErr := untypedErr.(type) {
	case nil:
		return nil
	case error:
		err = untypedErr
	case string:
		err = errors.New(untypedErr)
	default:
		err = fmt.Errorf("%v", untypedErr)
	}
	return &categorized{error: err, kind: k}
}

// Newf creates a new categorized error from a format string; '%w' works as expected.
func (k Kind) Newf(format string, a ...interface{}) error {
	return &categorized{error: fmt.Errorf(format, a...), kind: k}
}

// Unwrap returns the wrapped error.
func (ce *categorized) Unwrap() error {
	return ce.error
}

// GetKind returns the Kind of a categorized error, OK for nil, and Unknown
// for any other error.
func GetKind(err error) Kind {
	if err == nil {
		return OK
	}
	for {
		if ce, ok := err.(*categorized); ok {
			return ce.kind
		}
		if err = errors.Unwrap(err); err == nil {
			return Unknown
		}
	}
}

// Is reports whether err is categorized with the given kind.
func Is(err error, k Kind) bool {
	return GetKind(err) == k
}
