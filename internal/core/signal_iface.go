package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw encoded payload for one outbound event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It fails with ErrBackpressure when
	// the queue is full and ErrConnClosed after Close.
	TrySend(f Frame) error
	Close()
	// Done is closed once the connection has been closed by either side.
	Done() <-chan struct{}
}
