// Package protocol defines the wire format of the blob replication protocol:
// length-prefixed frames whose payloads are JSON values or raw bytes.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed frame header size: Length(4).
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload of a single inbound frame.
const DefaultMaxFrameSize = 64 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrShortFrame    = errors.New("protocol: short frame")
)

// Encode serializes a payload into a single frame: a big-endian uint32
// length followed by the payload bytes.
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode extracts the payload from one complete frame produced by Encode.
func Decode(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), HeaderSize)
	}
	n := binary.BigEndian.Uint32(data[0:HeaderSize])
	if uint64(len(data)-HeaderSize) != uint64(n) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrShortFrame, n, len(data)-HeaderSize)
	}
	payload := make([]byte, n)
	copy(payload, data[HeaderSize:])
	return payload, nil
}

// ReadFrame reads the next frame from r and returns its payload.
// It returns io.EOF only when r ends cleanly on a frame boundary.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrShortFrame)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if maxSize > 0 && n > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, n, maxSize)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: truncated payload: %w", ErrShortFrame, err)
		}
	}
	return payload, nil
}

// WriteFrame writes payload to w as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}
