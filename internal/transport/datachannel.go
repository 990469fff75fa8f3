package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/blobrepl/internal/util"
)

const (
	maxMessageSize  = 16 * 1024 // bytes per DataChannel message
	inboxBufferSize = 64        // inbound message channel capacity
	dcHighWaterMark = 1024 * 1024
	dcLowWaterMark  = 256 * 1024
	flushPoll       = 10 * time.Millisecond
)

// DefaultSTUNServers are used for ICE candidate gathering when the caller
// does not supply its own.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Peer wraps a single PeerConnection + DataChannel pair and exposes the
// DataChannel as a byte stream (see Duplex). Writes are split into
// bounded messages and respect the DataChannel's buffered amount.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}
	inbox       chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	rmu sync.Mutex
	cur []byte // unread remainder of the current inbound message

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewPeer creates a Peer backed by a new PeerConnection and a pre-negotiated,
// ordered DataChannel. Ordering matters: frame meaning is positional, so
// messages must arrive in the order they were sent. A nil iceServers uses
// DefaultSTUNServers; a non-nil empty slice gathers host candidates only.
func NewPeer(ctx context.Context, iceServers []string) (*Peer, error) {
	if iceServers == nil {
		iceServers = DefaultSTUNServers
	}
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	ordered := true
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("blobrepl", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:          pc,
		dc:          dc,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		inbox:       make(chan []byte, inboxBufferSize),
		ctx:         pCtx,
		cancel:      pCancel,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.openSignal) })
	})

	// DC close → cancel peer context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		pCancel()
	})

	dc.SetBufferedAmountLowThreshold(uint64(dcLowWaterMark))
	dc.OnBufferedAmountLow(func() {
		signal(p.drainSignal)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case p.inbox <- msg.Data:
		case <-pCtx.Done():
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			pCancel()
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (p *Peer) Ready() <-chan struct{} {
	return p.openSignal
}

// Done returns a channel that is closed when the Peer is shut down
// (DataChannel closed or parent context cancelled).
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = errors.Join(p.dc.Close(), p.pc.Close())
	})
	return err
}

// Duplex exposes the DataChannel as a byte stream.
func (p *Peer) Duplex() Duplex {
	return Duplex{Reader: p, Writer: p}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Read returns bytes from inbound DataChannel messages in arrival order.
// It returns io.EOF once the DataChannel is closed and every received
// message has been consumed.
func (p *Peer) Read(b []byte) (int, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()

	for len(p.cur) == 0 {
		select {
		case msg := <-p.inbox:
			p.cur = msg
		case <-p.ctx.Done():
			select {
			case msg := <-p.inbox:
				p.cur = msg
			default:
				return 0, io.EOF
			}
		}
	}

	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

// Write sends b as one or more DataChannel messages. When the buffered
// amount exceeds the high-water mark it blocks until the channel drains.
func (p *Peer) Write(b []byte) (int, error) {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if p.ctx.Err() != nil {
		return 0, ErrClosed
	}
	select {
	case <-p.openSignal:
	case <-p.ctx.Done():
		return 0, ErrClosed
	}

	written := 0
	for written < len(b) {
		if p.dc.BufferedAmount() > uint64(dcHighWaterMark) {
			select {
			case <-p.drainSignal:
			case <-p.ctx.Done():
				return written, ErrClosed
			}
		}

		end := written + maxMessageSize
		if end > len(b) {
			end = len(b)
		}
		if err := p.dc.Send(b[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// CloseWrite waits for buffered messages to reach the wire and then closes
// the DataChannel. A DataChannel has no half-close, so the termination
// handshake must already guarantee the peer sends nothing further.
func (p *Peer) CloseWrite() error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	// The peer may already have closed the channel after its own flush.
	select {
	case <-p.ctx.Done():
		return nil
	default:
	}

	for p.dc.BufferedAmount() > 0 {
		select {
		case <-time.After(flushPoll):
		case <-p.ctx.Done():
			return nil
		}
	}
	return p.dc.Close()
}
