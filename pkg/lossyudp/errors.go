package lossyudp

import "errors"

// ErrStopped is returned by Recv after StopRecv has been called.
var ErrStopped = errors.New("lossyudp: channel stopped")

// ErrDatagramTooLarge is returned by Send when a datagram exceeds MaxDatagramSize.
var ErrDatagramTooLarge = errors.New("lossyudp: datagram exceeds maximum size")
