package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/blobrepl/internal/protocol"
	"github.com/1ureka/blobrepl/internal/util"
)

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithWaterMarks overrides the backpressure thresholds.
func WithWaterMarks(high, low int) StreamOption {
	return func(s *Stream) {
		s.high = high
		s.low = low
	}
}

// WithMaxFrameSize bounds the payload size of frames in both directions.
func WithMaxFrameSize(n uint32) StreamOption {
	return func(s *Stream) {
		s.maxFrame = n
	}
}

// Stream is a Channel that frames payloads with a length prefix over a
// byte-stream Duplex. A single writer goroutine serializes all writes, so
// frames leave in the order Send accepted them.
type Stream struct {
	d        Duplex
	high     int
	low      int
	maxFrame uint32

	mu      sync.Mutex
	queue   [][]byte
	queued  int  // encoded bytes accepted by Send but not yet written
	paused  bool // a Send reported backpressure and nobody was drained yet
	closing bool
	err     error

	wake    chan struct{}
	drained chan struct{}
	flushed chan struct{} // closed when the writer goroutine exits
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStream starts the writer goroutine for d. Callers must eventually
// call Close to release it.
func NewStream(d Duplex, opts ...StreamOption) *Stream {
	s := &Stream{
		d:        d,
		high:     HighWaterMark,
		low:      LowWaterMark,
		maxFrame: protocol.DefaultMaxFrameSize,
		wake:     make(chan struct{}, 1),
		drained:  make(chan struct{}, 1),
		flushed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.writeLoop()

	return s
}

// Send implements Channel. Frames larger than the maximum frame size are
// rejected with protocol.ErrFrameTooLarge, since the peer would refuse them.
func (s *Stream) Send(frame []byte) (bool, error) {
	if uint64(len(frame)) > uint64(s.maxFrame) {
		return false, fmt.Errorf("%w: %d bytes (limit %d)", protocol.ErrFrameTooLarge, len(frame), s.maxFrame)
	}
	buf := protocol.Encode(frame)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return false, err
	}
	if s.closing {
		s.mu.Unlock()
		return false, ErrWriteClosed
	}
	s.queue = append(s.queue, buf)
	s.queued += len(buf)
	pause := s.queued > s.high
	if pause && !s.paused {
		// A token left by an earlier pause that nobody waited on would
		// release this one early.
		select {
		case <-s.drained:
		default:
		}
		s.paused = true
	}
	s.mu.Unlock()

	signal(s.wake)
	return pause, nil
}

// Drained implements Channel.
func (s *Stream) Drained() <-chan struct{} {
	return s.drained
}

// Recv implements Channel.
func (s *Stream) Recv() ([]byte, error) {
	payload, err := protocol.ReadFrame(s.d.Reader, s.maxFrame)
	if err != nil {
		return nil, err
	}
	util.Stats.AddRecv(protocol.HeaderSize + len(payload))
	return payload, nil
}

// CloseWrite implements Channel. It blocks until every queued frame has
// been written and the outbound half is closed.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	signal(s.wake)

	select {
	case <-s.flushed:
	case <-s.done:
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Channel.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.d.Close()
	})
	return s.closeErr
}

// writeLoop is the single-writer goroutine. It drains the queue in order
// and performs the half-close once CloseWrite has been requested and the
// queue is empty.
func (s *Stream) writeLoop() {
	defer close(s.flushed)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()

			if closing {
				if err := s.d.CloseWrite(); err != nil {
					s.fail(err)
				}
				return
			}

			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if _, err := s.d.Writer.Write(buf); err != nil {
			s.fail(err)
			return
		}
		util.Stats.AddSent(len(buf))

		s.mu.Lock()
		s.queued -= len(buf)
		if s.paused && s.queued <= s.low {
			s.paused = false
			signal(s.drained)
		}
		s.mu.Unlock()
	}
}

// fail records the first write error and wakes anyone waiting for a drain,
// so that their next Send observes the error.
func (s *Stream) fail(err error) {
	if errors.Is(err, io.ErrClosedPipe) {
		err = ErrClosed
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.queue = nil
	s.queued = 0
	s.mu.Unlock()
	signal(s.drained)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
