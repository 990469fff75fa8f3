package transport

import (
	"errors"
	"io"
	"net"
)

// Duplex composes an independent reader and writer into one bidirectional
// handle with unified lifecycle methods.
type Duplex struct {
	io.Reader
	io.Writer
}

type closeWriter interface {
	CloseWrite() error
}

// FromConn wraps a network connection. TCP and Unix connections support a
// real half-close; other connections are fully closed by CloseWrite.
func FromConn(conn net.Conn) Duplex {
	return Duplex{Reader: conn, Writer: conn}
}

// CloseWrite half-closes the writer when it supports it, otherwise closes it.
func (d Duplex) CloseWrite() error {
	if cw, ok := d.Writer.(closeWriter); ok {
		return cw.CloseWrite()
	}
	if c, ok := d.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close closes both halves. A reader and writer backed by the same object
// are closed once.
func (d Duplex) Close() error {
	var errs []error
	if c, ok := d.Writer.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := d.Reader.(io.Closer); ok && !sameCloser(d.Reader, d.Writer) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func sameCloser(r io.Reader, w io.Writer) bool {
	rc, ok1 := r.(io.Closer)
	wc, ok2 := w.(io.Closer)
	return ok1 && ok2 && rc == wc
}

// Pipe returns two in-process Duplex ends connected to each other: bytes
// written to one are read from the other. CloseWrite on one end makes the
// other end read io.EOF.
func Pipe() (Duplex, Duplex) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return Duplex{Reader: ar, Writer: aw}, Duplex{Reader: br, Writer: bw}
}
