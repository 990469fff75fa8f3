package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/1ureka/blobrepl/internal/protocol"
)

const waitTimeout = 5 * time.Second

// TestStreamOrder sends many frames through a pipe and expects them back in
// order, followed by io.EOF once the sender half-closes.
func TestStreamOrder(t *testing.T) {
	da, db := Pipe()
	a, b := NewStream(da), NewStream(db)
	defer a.Close()
	defer b.Close()

	const n = 100
	go func() {
		for i := range n {
			if _, err := a.Send([]byte(fmt.Sprintf("frame-%d", i))); err != nil {
				t.Errorf("Send failed: %v", err)
				return
			}
		}
		if err := a.CloseWrite(); err != nil {
			t.Errorf("CloseWrite failed: %v", err)
		}
	}()

	for i := range n {
		frame, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv #%d failed: %v", i, err)
		}
		if want := fmt.Sprintf("frame-%d", i); string(frame) != want {
			t.Fatalf("Recv #%d = %q, want %q", i, frame, want)
		}
	}
	if _, err := b.Recv(); err != io.EOF {
		t.Fatalf("Recv after CloseWrite = %v, want io.EOF", err)
	}
}

// TestStreamBackpressure fills the queue past the high-water mark while
// nobody reads, then checks Drained fires once the reader catches up.
func TestStreamBackpressure(t *testing.T) {
	da, db := Pipe()
	a, b := NewStream(da, WithWaterMarks(10, 5)), NewStream(db)
	defer a.Close()
	defer b.Close()

	pause, err := a.Send(bytes.Repeat([]byte("x"), 8))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !pause {
		t.Fatal("Send over the high-water mark did not report backpressure")
	}

	if _, err := b.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}

	select {
	case <-a.Drained():
	case <-time.After(waitTimeout):
		t.Fatal("Drained did not fire")
	}

	pause, err = a.Send([]byte("y"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if pause {
		t.Error("small Send on an empty queue reported backpressure")
	}
}

// TestStreamIgnoredPause checks that a pause nobody waited on does not
// leave a drain signal behind that would release the next pause early.
func TestStreamIgnoredPause(t *testing.T) {
	da, db := Pipe()
	a, b := NewStream(da, WithWaterMarks(10, 5)), NewStream(db)
	defer a.Close()
	defer b.Close()

	frame := bytes.Repeat([]byte("x"), 8)
	if pause, err := a.Send(frame); err != nil || !pause {
		t.Fatalf("Send = %v, %v, want pause", pause, err)
	}
	if _, err := b.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	deadline := time.Now().Add(waitTimeout)
	for len(a.drained) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first pause never drained")
		}
		time.Sleep(time.Millisecond)
	}

	if pause, err := a.Send(frame); err != nil || !pause {
		t.Fatalf("Send = %v, %v, want pause", pause, err)
	}
	select {
	case <-a.Drained():
		t.Fatal("Drained fired while the frame is still queued")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := b.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	select {
	case <-a.Drained():
	case <-time.After(waitTimeout):
		t.Fatal("Drained did not fire")
	}
}

func TestStreamSendAfterCloseWrite(t *testing.T) {
	da, db := Pipe()
	a, b := NewStream(da), NewStream(db)
	defer a.Close()
	defer b.Close()

	go b.Recv()
	if err := a.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}
	if _, err := a.Send([]byte("late")); !errors.Is(err, ErrWriteClosed) {
		t.Fatalf("Send after CloseWrite = %v, want ErrWriteClosed", err)
	}
}

// TestStreamWriteError verifies that a failed write surfaces on the next
// Send and wakes anyone waiting for a drain.
func TestStreamWriteError(t *testing.T) {
	da, db := Pipe()
	a := NewStream(da)
	defer a.Close()
	db.Close()

	if _, err := a.Send([]byte("lost")); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}

	select {
	case <-a.Drained():
	case <-time.After(waitTimeout):
		t.Fatal("Drained did not fire after write error")
	}
	if _, err := a.Send([]byte("again")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after write error = %v, want ErrClosed", err)
	}
}

func TestStreamMaxFrameSize(t *testing.T) {
	da, db := Pipe()
	a, b := NewStream(da), NewStream(db, WithMaxFrameSize(4))
	defer a.Close()
	defer b.Close()

	if _, err := a.Send([]byte("too long")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := b.Recv(); err == nil {
		t.Fatal("Recv accepted an oversized frame")
	}

	dc, dd := Pipe()
	defer dd.Close()
	c := NewStream(dc, WithMaxFrameSize(4))
	defer c.Close()
	if _, err := c.Send([]byte("too long")); !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Errorf("Send of an oversized frame = %v, want ErrFrameTooLarge", err)
	}
	if _, err := c.Send([]byte("fits")); err != nil {
		t.Errorf("Send at the limit failed: %v", err)
	}
}

// TestPipeHalfClose checks that one direction can end while the other
// keeps flowing.
func TestPipeHalfClose(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	if err := a.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}
	if n, err := b.Read(make([]byte, 1)); n != 0 || err != io.EOF {
		t.Fatalf("Read after peer CloseWrite = %d, %v, want 0, io.EOF", n, err)
	}

	go b.Write([]byte("still open"))
	buf := make([]byte, len("still open"))
	if _, err := io.ReadFull(a, buf); err != nil {
		t.Fatalf("Read on open direction failed: %v", err)
	}
	if string(buf) != "still open" {
		t.Errorf("Read = %q", buf)
	}
}
