// Package lossyudp provides the datagram channel that pkg/rudp builds its
// reliable transport on top of. The channel may drop, duplicate, reorder
// and corrupt datagrams and imposes a per-datagram size limit; pkg/rudp
// treats it as an external facility it merely uses (spec.md §1).
package lossyudp

import (
	"context"
	"net"
	"time"
)

// MaxDatagramSize is the per-datagram size limit the channel imposes.
const MaxDatagramSize = 65507

// recvPollInterval bounds how long a Recv call blocks on the underlying
// socket before re-checking for cancellation. UDP has no native
// "stop receiving" primitive, so StopRecv relies on a short read deadline loop,
// the same trick the teacher's dialer.go readLoop uses to make a blocking
// net.Conn read responsive to shutdown.
const recvPollInterval = 200 * time.Millisecond

// Channel is the minimal send/recv/bind/stoprecv datagram facility spec.md
// §1 and §6 describe as "LossyUDP".
type Channel interface {
	// Send transmits b to the channel's bound peer. b must not exceed MaxDatagramSize.
	Send(b []byte) error
	// Recv blocks until a datagram arrives, the channel is stopped, or ctx is done.
	Recv(ctx context.Context) ([]byte, error)
	// LocalAddr returns the locally bound address.
	LocalAddr() net.Addr
	// StopRecv unblocks any pending or future Recv call with ErrStopped.
	StopRecv()
	// Close releases the underlying socket. Safe to call after StopRecv.
	Close() error
}

// UDPChannel is a Channel backed by a real *net.UDPConn, connected to a
// single peer the way the teacher's dialer.go connects a net.Dialer to a
// single destination per ConnID.
type UDPChannel struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	stopped chan struct{}
}

// Bind opens a UDP socket on srcAddr (an empty host/zero port means "any
// interface, any free port", per spec.md §6) and targets dstAddr as the
// channel's peer.
func Bind(srcAddr, dstAddr string) (*UDPChannel, error) {
	src, err := net.ResolveUDPAddr("udp", srcAddr)
	if err != nil {
		return nil, err
	}
	dst, err := net.ResolveUDPAddr("udp", dstAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", src)
	if err != nil {
		return nil, err
	}
	return &UDPChannel{conn: conn, peer: dst, stopped: make(chan struct{})}, nil
}

func (c *UDPChannel) Send(b []byte) error {
	if len(b) > MaxDatagramSize {
		return ErrDatagramTooLarge
	}
	_, err := c.conn.WriteToUDP(b, c.peer)
	return err
}

func (c *UDPChannel) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-c.stopped:
			return nil, ErrStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(recvPollInterval)); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.stopped:
				return nil, ErrStopped
			default:
			}
			return nil, err
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

func (c *UDPChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *UDPChannel) StopRecv() {
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
}

func (c *UDPChannel) Close() error {
	return c.conn.Close()
}
