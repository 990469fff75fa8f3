package replication

import "fmt"

// Anomaly kinds.
const (
	// AnomalyEarlyFrame is a frame other than the sentinel that arrived
	// while the local side was still sending or receiving.
	AnomalyEarlyFrame = "early-frame"
	// AnomalyUnexpectedMessage is a frame other than the sentinel that
	// arrived once only the sentinel could follow.
	AnomalyUnexpectedMessage = "unexpected-message"
	// AnomalyFrameAfterClose is any frame that arrived after the session
	// closed its outbound half.
	AnomalyFrameAfterClose = "frame-after-close"
)

// Anomaly describes an inbound frame the protocol did not expect. By
// default anomalies are logged and ignored.
type Anomaly struct {
	SessionID string
	State     State
	Kind      string
	Size      int // payload length of the offending frame
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s in state %s (%d bytes)", a.Kind, a.State, a.Size)
}

func (m *machine) anomaly(kind string, frame []byte) error {
	a := Anomaly{
		SessionID: m.s.id,
		State:     m.state,
		Kind:      kind,
		Size:      len(frame),
	}
	m.s.metrics.Anomalies.Inc()
	m.log.Warn("protocol anomaly", "kind", kind, "state", m.state.String(), "size", len(frame))

	if m.s.cfg.OnAnomaly != nil {
		m.s.cfg.OnAnomaly(a)
	}
	if m.s.cfg.StrictAnomalies {
		return fmt.Errorf("%w: %s", ErrProtocolAnomaly, a)
	}
	return nil
}
