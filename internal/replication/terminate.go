package replication

import "github.com/1ureka/blobrepl/internal/protocol"

// terminate runs once the local side has nothing left to send or receive.
// The first call announces completion with the sentinel; the outbound half
// is closed only after the peer has announced its own completion too, so a
// frame still in flight from the peer is never cut off.
func (m *machine) terminate() error {
	first := !m.localDone
	m.localDone = true

	if first {
		m.log.Debug("sent done")
		if err := m.send(protocol.Done); err != nil {
			return err
		}
	}

	if !m.remoteFinished() {
		m.state = StateWaitRemoteDone
		return nil
	}

	m.state = StateClosed
	m.startClose()
	return nil
}

// startClose flushes and half-closes the channel without blocking the run
// loop; completion arrives on closeDone.
func (m *machine) startClose() {
	if m.closing {
		return
	}
	m.closing = true
	m.log.Debug("closing")
	go func() {
		m.closeDone <- m.ch.CloseWrite()
	}()
}
