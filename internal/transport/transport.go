// Package transport turns byte-stream transports (pipes, sockets, WebSocket
// connections, WebRTC DataChannels) into ordered, message-preserving frame
// channels with backpressure.
package transport

import "errors"

const (
	HighWaterMark = 256 * 1024 // Send reports backpressure when queued bytes exceed this
	LowWaterMark  = 64 * 1024  // Drained fires once queued bytes fall to this
)

var (
	ErrWriteClosed = errors.New("transport: write side closed")
	ErrClosed      = errors.New("transport: channel closed")
)

// Channel is a bidirectional sequence of discrete frames. Frames are
// delivered by Recv in exactly the order the peer sent them, with message
// boundaries preserved.
type Channel interface {
	// Send queues one frame without blocking. It reports true when the
	// caller should wait for Drained before sending more.
	Send(frame []byte) (pause bool, err error)

	// Drained receives a signal once a backpressured queue has flushed
	// below the low-water mark.
	Drained() <-chan struct{}

	// Recv blocks for the next inbound frame. It returns io.EOF once the
	// peer has closed its outbound half.
	Recv() ([]byte, error)

	// CloseWrite flushes every queued frame and then half-closes the
	// outbound direction. Inbound frames may still be received.
	CloseWrite() error

	// Close tears down both directions.
	Close() error
}
