// Package replication synchronizes two named blob stores over a frame
// channel. Both peers run the same engine: they exchange have and want
// sets, stream the wanted blobs, and finish with a two-phase "done"
// handshake so neither side closes while frames are still in flight.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/blobrepl/internal/store"
	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

var (
	ErrListFailed      = errors.New("replication: listing local store failed")
	ErrPeerClosed      = errors.New("replication: peer closed before replication completed")
	ErrProtocolAnomaly = errors.New("replication: protocol anomaly")
	ErrUnsolicitedWant = errors.New("replication: peer wants an entry that was not offered")
	ErrUnsolicitedBlob = errors.New("replication: peer sent an entry that was not wanted")
)

// Config configures one session.
type Config struct {
	// Mode defaults to ModeSync.
	Mode Mode

	// Filter, when set, drops local entries before anything is announced.
	Filter func(name string) bool

	// ID is the correlation identifier attached to every log line.
	// A random one is generated when empty.
	ID string

	Logger  *util.Logger
	Metrics *Metrics

	// OnProgress is called on the session goroutine after every blob that
	// was completely sent or received.
	OnProgress func(transferred, total int)

	// OnAnomaly is called for every tolerated protocol anomaly.
	OnAnomaly func(Anomaly)

	// StrictAnomalies makes any protocol anomaly abort the session.
	StrictAnomalies bool
}

// Session replicates one store with one peer. It is not reusable.
type Session struct {
	id      string
	store   store.Store
	cfg     Config
	log     *util.Logger
	metrics *Metrics

	mu          sync.Mutex
	transferred int
	total       int
}

// New prepares a session for st.
func New(st store.Store, cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &Session{
		id:      cfg.ID,
		store:   st,
		cfg:     cfg,
		log:     cfg.Logger.With("session", cfg.ID, "mode", cfg.Mode.String()),
		metrics: cfg.Metrics,
	}
}

// ID returns the session's correlation identifier.
func (s *Session) ID() string {
	return s.id
}

// Stats returns the number of blobs transferred so far and the number
// known to be transferred in total.
func (s *Session) Stats() (transferred, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred, s.total
}

// Run lists the local store and then drives the protocol over ch until
// both directions are closed or an error aborts the session. Run owns ch
// and closes it before returning.
func (s *Session) Run(ctx context.Context, ch transport.Channel) error {
	defer ch.Close()

	util.Stats.AddSession()
	defer util.Stats.RemoveSession()
	s.metrics.Sessions.Inc()

	names, err := s.store.List(ctx)
	if err != nil {
		s.metrics.SessionsFailed.Inc()
		return fmt.Errorf("%w: %w", ErrListFailed, err)
	}
	if s.cfg.Filter != nil {
		kept := make([]string, 0, len(names))
		for _, name := range names {
			if s.cfg.Filter(name) {
				kept = append(kept, name)
			}
		}
		names = kept
	}
	s.log.Debug("local haves listed", "count", len(names))

	m := newMachine(s, ch, names)
	if err := m.run(ctx); err != nil {
		s.metrics.SessionsFailed.Inc()
		s.log.Error("replication failed", "state", m.state.String(), "error", err)
		return err
	}

	transferred, total := s.Stats()
	s.log.Info("replication complete", "transferred", transferred, "total", total)
	return nil
}

// Replicate runs one session for st over a byte-stream duplex, framing it
// with transport.NewStream.
func Replicate(ctx context.Context, st store.Store, d transport.Duplex, cfg Config) error {
	return New(st, cfg).Run(ctx, transport.NewStream(d))
}

func (s *Session) addTotal(n int) {
	s.mu.Lock()
	s.total += n
	s.mu.Unlock()
}

func (s *Session) progress() {
	s.mu.Lock()
	s.transferred++
	transferred, total := s.transferred, s.total
	s.mu.Unlock()

	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(transferred, total)
	}
}
