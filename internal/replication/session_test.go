package replication

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/blobrepl/internal/protocol"
	"github.com/1ureka/blobrepl/internal/transport"
)

// TestReplicateModes runs two sessions against each other for every mode
// pairing the protocol supports and checks both stores afterwards.
func TestReplicateModes(t *testing.T) {
	testCases := []struct {
		name         string
		modeA, modeB Mode
		a, b         map[string]string
		wantA, wantB map[string]string
	}{
		{
			name:  "both empty",
			modeA: ModeSync, modeB: ModeSync,
			a: nil, b: nil,
			wantA: map[string]string{}, wantB: map[string]string{},
		},
		{
			name:  "one-sided sync",
			modeA: ModeSync, modeB: ModeSync,
			a:     map[string]string{"2010-01-01_foo.png": "foo", "2010-01-02_bar.png": "bar"},
			b:     nil,
			wantA: map[string]string{"2010-01-01_foo.png": "foo", "2010-01-02_bar.png": "bar"},
			wantB: map[string]string{"2010-01-01_foo.png": "foo", "2010-01-02_bar.png": "bar"},
		},
		{
			name:  "union",
			modeA: ModeSync, modeB: ModeSync,
			a:     map[string]string{"a": "hello", "b": "goodbye", "c": "unix"},
			b:     map[string]string{"d": "elder", "b": "goodbye"},
			wantA: map[string]string{"a": "hello", "b": "goodbye", "c": "unix", "d": "elder"},
			wantB: map[string]string{"a": "hello", "b": "goodbye", "c": "unix", "d": "elder"},
		},
		{
			name:  "pull receives but never sends",
			modeA: ModePull, modeB: ModeSync,
			a:     map[string]string{"a": "hello", "b": "goodbye", "c": "unix"},
			b:     map[string]string{"d": "elder", "b": "goodbye"},
			wantA: map[string]string{"a": "hello", "b": "goodbye", "c": "unix", "d": "elder"},
			wantB: map[string]string{"d": "elder", "b": "goodbye"},
		},
		{
			name:  "push sends but never receives",
			modeA: ModePush, modeB: ModeSync,
			a:     map[string]string{"a": "1"},
			b:     map[string]string{"b": "2"},
			wantA: map[string]string{"a": "1"},
			wantB: map[string]string{"a": "1", "b": "2"},
		},
		{
			name:  "pull from push",
			modeA: ModePull, modeB: ModePush,
			a:     map[string]string{"a": "1"},
			b:     map[string]string{"b": "2"},
			wantA: map[string]string{"a": "1", "b": "2"},
			wantB: map[string]string{"b": "2"},
		},
		{
			name:  "null on both sides",
			modeA: ModeNull, modeB: ModeNull,
			a:     map[string]string{"a": "1"},
			b:     map[string]string{"b": "2"},
			wantA: map[string]string{"a": "1"},
			wantB: map[string]string{"b": "2"},
		},
		{
			name:  "null against sync",
			modeA: ModeNull, modeB: ModeSync,
			a:     map[string]string{"a": "1"},
			b:     map[string]string{"b": "2"},
			wantA: map[string]string{"a": "1"},
			wantB: map[string]string{"b": "2"},
		},
		{
			name:  "zero-length blob",
			modeA: ModeSync, modeB: ModeSync,
			a:     map[string]string{"empty": ""},
			b:     nil,
			wantA: map[string]string{"empty": ""},
			wantB: map[string]string{"empty": ""},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newMemStore(t, tc.a)
			b := newMemStore(t, tc.b)

			errA, errB := runPair(t,
				peer{store: a, cfg: Config{Mode: tc.modeA}},
				peer{store: b, cfg: Config{Mode: tc.modeB}},
			)
			if errA != nil || errB != nil {
				t.Fatalf("Run failed: a=%v b=%v", errA, errB)
			}

			if diff := cmp.Diff(tc.wantA, contents(t, a)); diff != "" {
				t.Errorf("store A mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantB, contents(t, b)); diff != "" {
				t.Errorf("store B mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestReplicateIdempotent verifies that a second session over already
// converged stores transfers nothing.
func TestReplicateIdempotent(t *testing.T) {
	a := newMemStore(t, map[string]string{"a": "1"})
	b := newMemStore(t, map[string]string{"b": "2"})

	if errA, errB := runPair(t, peer{store: a}, peer{store: b}); errA != nil || errB != nil {
		t.Fatalf("first Run failed: a=%v b=%v", errA, errB)
	}

	var mu sync.Mutex
	var calls int
	onProgress := func(int, int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	errA, errB := runPair(t,
		peer{store: a, cfg: Config{OnProgress: onProgress}},
		peer{store: b, cfg: Config{OnProgress: onProgress}},
	)
	if errA != nil || errB != nil {
		t.Fatalf("second Run failed: a=%v b=%v", errA, errB)
	}
	if calls != 0 {
		t.Errorf("second Run transferred %d blobs, want 0", calls)
	}
}

// TestReplicateSlowConsumer makes every Send report backpressure so each
// frame waits for a drain signal, and checks nothing is lost or reordered.
func TestReplicateSlowConsumer(t *testing.T) {
	blobs := map[string]string{
		"2010-01-01_a.png": strings.Repeat("a", 4096),
		"2010-01-02_b.png": "",
		"2010-01-03_c.png": "c",
		"2010-01-04_d.png": strings.Repeat("d", 70000),
	}
	a := newMemStore(t, blobs)
	b := newMemStore(t, nil)

	var slow *slowChannel
	wrap := func(ch transport.Channel) transport.Channel {
		slow = newSlowChannel(ch).(*slowChannel)
		return slow
	}

	errA, errB := runPair(t, peer{store: a, wrap: wrap}, peer{store: b})
	if errA != nil || errB != nil {
		t.Fatalf("Run failed: a=%v b=%v", errA, errB)
	}
	if diff := cmp.Diff(blobs, contents(t, b)); diff != "" {
		t.Errorf("store B mismatch (-want +got):\n%s", diff)
	}
	if slow.pauses == 0 {
		t.Error("expected Send to report backpressure")
	}
}

// TestReplicateTinyWaterMarks exercises the real stream backpressure path.
func TestReplicateTinyWaterMarks(t *testing.T) {
	blobs := map[string]string{
		"one":   strings.Repeat("1", 1<<16),
		"two":   strings.Repeat("2", 1<<17),
		"three": "",
	}
	a := newMemStore(t, blobs)
	b := newMemStore(t, map[string]string{"four": "4"})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	da, db := transport.Pipe()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return New(a, Config{}).Run(ctx, transport.NewStream(da, transport.WithWaterMarks(64, 16)))
	})
	g.Go(func() error {
		return New(b, Config{}).Run(ctx, transport.NewStream(db, transport.WithWaterMarks(64, 16)))
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := map[string]string{"one": blobs["one"], "two": blobs["two"], "three": "", "four": "4"}
	if diff := cmp.Diff(want, contents(t, a)); diff != "" {
		t.Errorf("store A mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, contents(t, b)); diff != "" {
		t.Errorf("store B mismatch (-want +got):\n%s", diff)
	}
}

// TestBlobTooLarge checks that a blob above the frame limit fails on the
// sending side instead of being refused by the receiver.
func TestBlobTooLarge(t *testing.T) {
	a := newMemStore(t, map[string]string{"big": strings.Repeat("b", 64)})
	b := newMemStore(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	da, db := transport.Pipe()
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = New(a, Config{}).Run(ctx, transport.NewStream(da, transport.WithMaxFrameSize(32)))
	}()
	go func() {
		defer wg.Done()
		errB = New(b, Config{}).Run(ctx, transport.NewStream(db, transport.WithMaxFrameSize(32)))
	}()
	wg.Wait()

	if !errors.Is(errA, protocol.ErrFrameTooLarge) {
		t.Errorf("sender error = %v, want ErrFrameTooLarge", errA)
	}
	if !strings.Contains(errA.Error(), `"big"`) {
		t.Errorf("sender error %q does not name the blob", errA)
	}
	if errB == nil || errors.Is(errB, context.DeadlineExceeded) {
		t.Errorf("receiver error = %v, want a failed session", errB)
	}
}

// TestProgress checks that every completed transfer is reported and the
// final counters agree.
func TestProgress(t *testing.T) {
	a := newMemStore(t, map[string]string{"a": "1", "b": "2"})
	b := newMemStore(t, map[string]string{"c": "3"})

	var got [][2]int
	sa := New(a, Config{OnProgress: func(transferred, total int) {
		got = append(got, [2]int{transferred, total})
	}})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	da, db := transport.Pipe()
	errs := make(chan error, 1)
	go func() { errs <- New(b, Config{}).Run(ctx, transport.NewStream(db)) }()

	if err := sa.Run(ctx, transport.NewStream(da)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("peer Run failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("OnProgress called %d times, want 3: %v", len(got), got)
	}
	if last := got[len(got)-1]; last != [2]int{3, 3} {
		t.Errorf("last progress = %v, want [3 3]", last)
	}
	if transferred, total := sa.Stats(); transferred != 3 || total != 3 {
		t.Errorf("Stats() = %d, %d, want 3, 3", transferred, total)
	}
}

// TestListFailure verifies that a store that cannot be listed aborts the
// session before anything is sent.
func TestListFailure(t *testing.T) {
	errList := errors.New("disk on fire")
	st := &failingStore{Store: newMemStore(t, nil), listErr: errList}
	ch := newRecordingChannel()

	err := New(st, Config{}).Run(context.Background(), ch)
	if !errors.Is(err, ErrListFailed) || !errors.Is(err, errList) {
		t.Fatalf("Run error = %v, want ErrListFailed wrapping the cause", err)
	}
	if sent := ch.sent(); len(sent) != 0 {
		t.Errorf("sent %v before failing, want nothing", sent)
	}
}

// TestStoreWriteFailure verifies that a failed local write aborts both
// sessions instead of hanging them.
func TestStoreWriteFailure(t *testing.T) {
	errCreate := errors.New("read-only")
	a := &failingStore{Store: newMemStore(t, nil), createErr: errCreate}
	b := newMemStore(t, map[string]string{"x": "1"})

	errA, errB := runPair(t, peer{store: a}, peer{store: b})
	if !errors.Is(errA, errCreate) {
		t.Errorf("receiving side error = %v, want %v", errA, errCreate)
	}
	if errB == nil {
		t.Error("sending side finished cleanly, want an error")
	}
}

// TestPeerClosedEarly verifies that an EOF before the termination
// handshake is reported as ErrPeerClosed.
func TestPeerClosedEarly(t *testing.T) {
	da, db := transport.Pipe()
	raw := transport.NewStream(db)
	defer raw.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- New(newMemStore(t, map[string]string{"a": "1"}), Config{}).Run(context.Background(), transport.NewStream(da))
	}()

	if _, err := raw.Recv(); err != nil {
		t.Fatalf("Recv haves failed: %v", err)
	}
	if err := raw.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	if err := <-errs; !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("Run error = %v, want ErrPeerClosed", err)
	}
}

// TestContextCancel verifies that a stalled session stops on cancellation.
func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	da, db := transport.Pipe()
	raw := transport.NewStream(db)
	defer raw.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- New(newMemStore(t, nil), Config{}).Run(ctx, transport.NewStream(da))
	}()

	if _, err := raw.Recv(); err != nil {
		t.Fatalf("Recv haves failed: %v", err)
	}
	cancel()

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

// TestSessionID checks the generated and supplied correlation ids.
func TestSessionID(t *testing.T) {
	st := newMemStore(t, nil)
	if id := New(st, Config{}).ID(); id == "" {
		t.Error("generated ID is empty")
	}
	if id := New(st, Config{ID: "fixed"}).ID(); id != "fixed" {
		t.Errorf("ID() = %q, want %q", id, "fixed")
	}
}

// TestFilter verifies that filtered entries are never announced.
func TestFilter(t *testing.T) {
	a := newMemStore(t, map[string]string{"keep.png": "k", "skip.tmp": "s"})
	b := newMemStore(t, nil)

	filter := func(name string) bool { return !strings.HasSuffix(name, ".tmp") }
	errA, errB := runPair(t, peer{store: a, cfg: Config{Filter: filter}}, peer{store: b})
	if errA != nil || errB != nil {
		t.Fatalf("Run failed: a=%v b=%v", errA, errB)
	}
	if diff := cmp.Diff(map[string]string{"keep.png": "k"}, contents(t, b)); diff != "" {
		t.Errorf("store B mismatch (-want +got):\n%s", diff)
	}
}

// TestReplicateSentinelContent replicates blobs whose content is the
// sentinel itself, with anomalies treated as fatal on both sides.
func TestReplicateSentinelContent(t *testing.T) {
	a := newMemStore(t, map[string]string{"x": `"done"`})
	b := newMemStore(t, map[string]string{"y": `"done"`, "z": "zzz"})

	var mu sync.Mutex
	var anomalies []Anomaly
	cfg := Config{
		StrictAnomalies: true,
		OnAnomaly: func(an Anomaly) {
			mu.Lock()
			anomalies = append(anomalies, an)
			mu.Unlock()
		},
	}

	errA, errB := runPair(t, peer{store: a, cfg: cfg}, peer{store: b, cfg: cfg})
	if errA != nil || errB != nil {
		t.Fatalf("Run failed: a=%v b=%v", errA, errB)
	}

	want := map[string]string{"x": `"done"`, "y": `"done"`, "z": "zzz"}
	if diff := cmp.Diff(want, contents(t, a)); diff != "" {
		t.Errorf("store A mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, contents(t, b)); diff != "" {
		t.Errorf("store B mismatch (-want +got):\n%s", diff)
	}
	if len(anomalies) != 0 {
		t.Errorf("anomalies reported: %v", anomalies)
	}
}
