package replication

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/1ureka/blobrepl/internal/store"
	"github.com/1ureka/blobrepl/internal/transport"
)

const testTimeout = 10 * time.Second

// newMemStore returns an in-memory store seeded with blobs.
func newMemStore(t *testing.T, blobs map[string]string) *store.FS {
	t.Helper()
	st := store.NewFS(afero.NewMemMapFs(), "/blobs")
	for name, content := range blobs {
		w, err := st.Create(context.Background(), name)
		if err != nil {
			t.Fatalf("Create(%q) failed: %v", name, err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("Write(%q) failed: %v", name, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close(%q) failed: %v", name, err)
		}
	}
	return st
}

// contents reads every blob of st.
func contents(t *testing.T, st store.Store) map[string]string {
	t.Helper()
	ctx := context.Background()
	names, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		r, err := st.Open(ctx, name)
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", name, err)
		}
		b, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("Read(%q) failed: %v", name, err)
		}
		out[name] = string(b)
	}
	return out
}

type peer struct {
	store store.Store
	cfg   Config
	wrap  func(transport.Channel) transport.Channel
}

// runPair connects a and b over an in-process pipe and runs both sessions
// to completion, returning each side's result.
func runPair(t *testing.T, a, b peer) (errA, errB error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	da, db := transport.Pipe()
	chA := transport.Channel(transport.NewStream(da))
	chB := transport.Channel(transport.NewStream(db))
	if a.wrap != nil {
		chA = a.wrap(chA)
	}
	if b.wrap != nil {
		chB = b.wrap(chB)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = New(a.store, a.cfg).Run(ctx, chA)
	}()
	go func() {
		defer wg.Done()
		errB = New(b.store, b.cfg).Run(ctx, chB)
	}()
	wg.Wait()

	if errors.Is(errA, context.DeadlineExceeded) || errors.Is(errB, context.DeadlineExceeded) {
		t.Fatalf("sessions did not finish: a=%v b=%v", errA, errB)
	}
	return errA, errB
}

// slowChannel reports backpressure on every Send and signals Drained a
// moment later, like a consumer that never keeps up.
type slowChannel struct {
	transport.Channel

	drained chan struct{}

	mu     sync.Mutex
	pauses int
}

func newSlowChannel(ch transport.Channel) transport.Channel {
	return &slowChannel{Channel: ch, drained: make(chan struct{}, 1)}
}

func (c *slowChannel) Send(frame []byte) (bool, error) {
	if _, err := c.Channel.Send(frame); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.pauses++
	c.mu.Unlock()

	time.AfterFunc(time.Millisecond, func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})
	return true, nil
}

func (c *slowChannel) Drained() <-chan struct{} {
	return c.drained
}

// recordingChannel captures sent frames and never delivers any.
type recordingChannel struct {
	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{closed: make(chan struct{})}
}

func (c *recordingChannel) Send(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return false, nil
}

func (c *recordingChannel) Drained() <-chan struct{} { return nil }

func (c *recordingChannel) Recv() ([]byte, error) {
	<-c.closed
	return nil, io.EOF
}

func (c *recordingChannel) CloseWrite() error { return nil }

func (c *recordingChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *recordingChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	store.Store
	listErr   error
	createErr error
}

func (s *failingStore) List(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.List(ctx)
}

func (s *failingStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.Store.Create(ctx, name)
}

// newTestMachine builds a machine over a recording channel for driving
// transitions directly.
func newTestMachine(t *testing.T, cfg Config) (*machine, *recordingChannel) {
	t.Helper()
	ch := newRecordingChannel()
	s := New(newMemStore(t, nil), cfg)
	return newMachine(s, ch, nil), ch
}
