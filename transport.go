// Package testwire provides the networking layer used to drive distributed
// asynchronous test scenarios: a length-framed packet transport, a TCP
// server with supervised connection handlers, and a messaging layer that
// correlates asynchronously arriving messages with caller-supplied predicates.
package testwire

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by transport operations.
var (
	// ErrEndOfStream is returned when the stream ends before a full frame was read.
	ErrEndOfStream = errors.New("end of stream")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Transport reads and writes whole frames over a duplex byte stream.
// Each frame is a size prefix produced by a SizeCodec followed by exactly
// that many payload bytes.
//
// Read and Write may be called from different goroutines. Concurrent
// writers are serialized so frames never interleave on the wire.
type Transport struct {
	rw     io.ReadWriter
	reader *bufio.Reader
	logger Logger
	opts   options

	rmu    sync.Mutex
	header []byte

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewTransport wraps rw as a packet transport.
func NewTransport(rw io.ReadWriter, opt ...Option) *Transport {
	opts := buildOptions(opt)
	return &Transport{
		rw:     rw,
		reader: bufio.NewReaderSize(rw, opts.readBufferSize),
		logger: opts.logger,
		opts:   opts,
		header: make([]byte, opts.sizeCodec.HeaderLen()),
	}
}

// Read blocks until one complete frame has arrived and returns its payload.
// It never returns a partial frame: if the stream ends first, the error
// wraps ErrEndOfStream. A malformed prefix yields an error wrapping
// ErrInvalidSize, an oversized one ErrMessageTooLarge.
func (t *Transport) Read() ([]byte, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	if _, err := io.ReadFull(t.reader, t.header); err != nil {
		return nil, t.readError(err, "read frame header")
	}

	size, err := t.opts.sizeCodec.DecodeSize(t.header)
	if err != nil {
		return nil, err
	}
	if size > t.opts.maxReadLength {
		return nil, errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes, limit %d", size, t.opts.maxReadLength)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(t.reader, payload); err != nil {
		return nil, t.readError(err, "read frame payload")
	}
	return payload, nil
}

// Write sends payload as one frame with a single write on the stream.
func (t *Transport) Write(payload []byte) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	if len(payload) > t.opts.maxReadLength {
		return errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes, limit %d", len(payload), t.opts.maxReadLength)
	}

	frame, err := EncodeFrame(t.opts.sizeCodec, payload)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if d, ok := t.rw.(writeDeadliner); ok && t.opts.writeTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	}

	if _, err := t.rw.Write(frame); err != nil {
		t.logger.Debug("write error", "addr", t.RemoteAddr(), "error", err)
		if isClosedError(err) || t.closed.Load() {
			return errors.Wrap(ErrConnectionClosed, err.Error())
		}
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// Close closes the underlying stream if it is an io.Closer.
// Safe to call multiple times.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// RemoteAddr returns the peer address when the stream is a network connection.
func (t *Transport) RemoteAddr() net.Addr {
	if c, ok := t.rw.(net.Conn); ok {
		return c.RemoteAddr()
	}
	return nil
}

func (t *Transport) readError(err error, op string) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return errors.Wrap(ErrEndOfStream, op)
	case t.closed.Load() || isClosedError(err):
		return errors.Wrap(ErrConnectionClosed, op)
	default:
		return errors.Wrap(err, op)
	}
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
