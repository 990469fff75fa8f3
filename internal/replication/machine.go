package replication

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/1ureka/blobrepl/internal/protocol"
	"github.com/1ureka/blobrepl/internal/store"
	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

// transition interprets one inbound frame in a given state.
type transition func(m *machine, ctx context.Context, frame []byte) error

// transitions holds exactly one handler per state.
var transitions = [numStates]transition{
	StateWaitRemoteHaves:       (*machine).onRemoteHaves,
	StateWaitRemoteWants:       (*machine).onRemoteWants,
	StateWaitRemoteFilesLength: (*machine).onRemoteFilesLength,
	StateWaitRemoteFileName:    (*machine).onRemoteFileName,
	StateWaitRemoteFileData:    (*machine).onRemoteFileData,
	StateWaitRemoteDone:        (*machine).onRemoteDone,
	StateClosed:                (*machine).onAfterClose,
}

// machine is the per-session protocol state. All fields are owned by the
// goroutine executing run; the sender goroutine reports back through
// events and never touches them.
type machine struct {
	s     *Session
	ch    transport.Channel
	store store.Store
	mode  Mode
	log   *util.Logger

	state State

	localHaves []string
	offered    map[string]struct{} // names announced to the peer
	wanted     map[string]struct{} // names requested from the peer

	numFilesToRecv int
	recvKnown      bool // numFilesToRecv has been announced by the peer
	pendingName    string

	filesSent  bool
	remoteDone bool
	localDone  bool

	// doneInData is set when remoteDone was raised by a blob whose content
	// equals the sentinel. The peer's real sentinel is still to come and is
	// awaited before closing.
	doneInData bool

	closing     bool // CloseWrite has been started
	writeClosed bool // CloseWrite has completed
	readEOF     bool

	events    chan sendEvent
	closeDone chan error
}

func newMachine(s *Session, ch transport.Channel, localHaves []string) *machine {
	return &machine{
		s:          s,
		ch:         ch,
		store:      s.store,
		mode:       s.cfg.Mode,
		log:        s.log,
		state:      StateWaitRemoteHaves,
		localHaves: localHaves,
		events:     make(chan sendEvent),
		closeDone:  make(chan error, 1),
	}
}

// run processes inbound frames one at a time, to completion, until both
// halves of the channel are closed.
func (m *machine) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go m.readLoop(ctx, frames, readErr)

	switch {
	case m.mode.withholdsHaves():
		// Announced once the peer's haves are known.
	case !m.mode.offers():
		// An empty announcement offers nothing, exactly like an overlap-only
		// one would, without waiting on a peer that may also be waiting.
		if err := m.sendHaves(nil); err != nil {
			return err
		}
	default:
		if err := m.sendHaves(m.localHaves); err != nil {
			return err
		}
	}

	for {
		select {
		case frame := <-frames:
			if err := m.handle(ctx, frame); err != nil {
				return err
			}

		case ev := <-m.events:
			if err := m.onSendEvent(ev); err != nil {
				return err
			}

		case err := <-m.closeDone:
			if err != nil {
				return fmt.Errorf("close write: %w", err)
			}
			m.writeClosed = true
			if m.readEOF {
				return nil
			}

		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("receive in state %s: %w", m.state, err)
			}
			if !m.closing {
				return fmt.Errorf("%w (state %s)", ErrPeerClosed, m.state)
			}
			m.log.Debug("remote closed")
			m.readEOF = true
			if m.writeClosed {
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop feeds inbound frames to run. The unbuffered frames channel
// keeps the next frame unread until the previous one is fully handled.
func (m *machine) readLoop(ctx context.Context, frames chan<- []byte, readErr chan<- error) {
	for {
		frame, err := m.ch.Recv()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// handle checks the position-independent sentinel first, then dispatches
// on the current state.
func (m *machine) handle(ctx context.Context, frame []byte) error {
	if protocol.IsDone(frame) {
		m.noteDone()
	}
	return transitions[m.state](m, ctx, frame)
}

func (m *machine) noteDone() {
	switch {
	case m.state == StateWaitRemoteFileData:
		if !m.remoteDone {
			m.log.Debug("remote done (blob content)", "name", m.pendingName)
			m.remoteDone = true
			m.doneInData = true
		}
	case m.doneInData:
		m.log.Debug("remote done", "state", m.state.String())
		m.doneInData = false
	case !m.remoteDone:
		m.log.Debug("remote done", "state", m.state.String())
		m.remoteDone = true
	}
}

// remoteFinished reports whether the peer's sentinel has arrived outside a
// data position.
func (m *machine) remoteFinished() bool {
	return m.remoteDone && !m.doneInData
}

func (m *machine) onRemoteHaves(_ context.Context, frame []byte) error {
	remoteHaves, err := protocol.DecodeHaves(frame)
	if err != nil {
		return err
	}
	m.log.Debug("got remote haves", "count", len(remoteHaves))
	m.state = StateWaitRemoteWants

	if m.mode.withholdsHaves() {
		// Offer only what the peer already has, so nothing is pushed to it.
		if err := m.sendHaves(Intersect(m.localHaves, remoteHaves)); err != nil {
			return err
		}
	}

	// Wants are computed against the full local set, never the reduced one.
	var wants []string
	if m.mode.requests() {
		wants = Missing(m.localHaves, remoteHaves)
	}
	m.wanted = nameSet(wants)
	m.s.addTotal(len(wants))
	m.s.metrics.Wanted.Add(float64(len(wants)))

	m.log.Debug("sent local wants", "count", len(wants))
	return m.send(protocol.EncodeWants(wants))
}

func (m *machine) onRemoteWants(ctx context.Context, frame []byte) error {
	remoteWants, err := protocol.DecodeWants(frame)
	if err != nil {
		return err
	}
	for _, name := range remoteWants {
		if _, ok := m.offered[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnsolicitedWant, name)
		}
	}
	m.log.Debug("got remote wants", "count", len(remoteWants))
	m.state = StateWaitRemoteFilesLength

	m.s.addTotal(len(remoteWants))
	m.startSending(ctx, remoteWants)
	return nil
}

func (m *machine) onRemoteFilesLength(_ context.Context, frame []byte) error {
	n, err := protocol.DecodeCount(frame)
	if err != nil {
		return err
	}
	m.log.Debug("got number of remote files incoming", "count", n)
	m.numFilesToRecv = n
	m.recvKnown = true

	if n > 0 {
		m.state = StateWaitRemoteFileName
		return nil
	}

	// Nothing to receive: a name frame can never follow, so only the
	// peer's sentinel remains.
	m.state = StateWaitRemoteDone
	if m.filesSent {
		return m.terminate()
	}
	return nil
}

func (m *machine) onRemoteFileName(_ context.Context, frame []byte) error {
	name, err := protocol.DecodeName(frame)
	if err != nil {
		return err
	}
	if _, ok := m.wanted[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsolicitedBlob, name)
	}
	m.log.Trace("got a filename", "name", name)
	m.pendingName = name
	m.state = StateWaitRemoteFileData
	return nil
}

func (m *machine) onRemoteFileData(ctx context.Context, frame []byte) error {
	name := m.pendingName
	m.pendingName = ""

	// Decided from the known remaining count before the write completes.
	if m.numFilesToRecv <= 1 {
		m.state = StateWaitRemoteDone
	} else {
		m.state = StateWaitRemoteFileName
	}

	if err := m.receive(ctx, name, frame); err != nil {
		return err
	}
	m.s.progress()

	m.numFilesToRecv--
	if m.numFilesToRecv == 0 {
		m.log.Debug("all received")
		if m.filesSent {
			return m.terminate()
		}
	}
	return nil
}

func (m *machine) onRemoteDone(_ context.Context, frame []byte) error {
	if m.numFilesToRecv > 0 || !m.filesSent {
		// The peer may finish first and announce it while our own sends
		// are still being flushed; the flag was recorded by handle.
		if protocol.IsDone(frame) {
			return nil
		}
		return m.anomaly(AnomalyEarlyFrame, frame)
	}
	if protocol.IsDone(frame) {
		return m.terminate()
	}
	return m.anomaly(AnomalyUnexpectedMessage, frame)
}

func (m *machine) onAfterClose(_ context.Context, frame []byte) error {
	return m.anomaly(AnomalyFrameAfterClose, frame)
}

func (m *machine) onSendEvent(ev sendEvent) error {
	if ev.err != nil {
		return ev.err
	}
	if !ev.done {
		m.s.progress()
		return nil
	}

	m.log.Debug("all sent")
	m.filesSent = true
	if m.recvKnown && m.numFilesToRecv == 0 {
		return m.terminate()
	}
	return nil
}

func (m *machine) sendHaves(haves []string) error {
	m.offered = nameSet(haves)
	m.s.metrics.Offered.Add(float64(len(haves)))
	m.log.Debug("sent local haves", "count", len(haves))
	return m.send(protocol.EncodeHaves(haves))
}

// send queues a handshake frame. Handshake frames are small, so the
// backpressure hint is only honoured by the transfer engine.
func (m *machine) send(frame []byte) error {
	if _, err := m.ch.Send(frame); err != nil {
		return fmt.Errorf("send in state %s: %w", m.state, err)
	}
	return nil
}
