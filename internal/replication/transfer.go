package replication

import (
	"context"
	"fmt"
	"io"

	"github.com/1ureka/blobrepl/internal/protocol"
	"github.com/1ureka/blobrepl/internal/util"
)

// sendEvent reports sender progress back to the run loop.
type sendEvent struct {
	name string
	size int
	done bool // every requested blob has been queued
	err  error
}

// startSending pushes the requested blobs from a dedicated goroutine: the
// count, then a name frame followed by a data frame per blob. Frames are
// queued strictly in that order and the goroutine waits for the channel to
// drain whenever Send reports backpressure.
func (m *machine) startSending(ctx context.Context, names []string) {
	go func() {
		err := m.sendRequested(ctx, names)
		m.post(ctx, sendEvent{done: true, err: err})
	}()
}

func (m *machine) sendRequested(ctx context.Context, names []string) error {
	m.log.Debug("sending files", "count", len(names))
	if err := m.sendFrame(ctx, protocol.EncodeCount(len(names))); err != nil {
		return fmt.Errorf("send count: %w", err)
	}

	for _, name := range names {
		data, err := m.readBlob(ctx, name)
		if err != nil {
			return fmt.Errorf("send %q: %w", name, err)
		}
		if err := m.sendFrame(ctx, protocol.EncodeName(name)); err != nil {
			return fmt.Errorf("send %q: %w", name, err)
		}
		if err := m.sendFrame(ctx, data); err != nil {
			return fmt.Errorf("send %q: %w", name, err)
		}

		m.s.metrics.BlobsSent.Inc()
		m.s.metrics.BytesSent.Add(float64(len(data)))
		util.Stats.AddBlobSent()
		m.log.Trace("sent a file", "name", name, "size", len(data))

		if !m.post(ctx, sendEvent{name: name, size: len(data)}) {
			return ctx.Err()
		}
	}
	return nil
}

func (m *machine) readBlob(ctx context.Context, name string) ([]byte, error) {
	r, err := m.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// sendFrame queues one frame and honours the backpressure hint before
// returning, so the next frame is only queued once the channel has room.
func (m *machine) sendFrame(ctx context.Context, frame []byte) error {
	pause, err := m.ch.Send(frame)
	if err != nil {
		return err
	}
	if !pause {
		return nil
	}
	select {
	case <-m.ch.Drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *machine) post(ctx context.Context, ev sendEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// receive writes one blob to the local store. It runs on the run loop, so
// no further frame is read until the write has completed.
func (m *machine) receive(ctx context.Context, name string, data []byte) error {
	w, err := m.store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("receive %q: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("receive %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("receive %q: %w", name, err)
	}

	m.s.metrics.BlobsReceived.Inc()
	m.s.metrics.BytesReceived.Add(float64(len(data)))
	util.Stats.AddBlobRecv()
	m.log.Trace("stored a file", "name", name, "size", len(data))
	return nil
}
