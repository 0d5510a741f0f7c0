package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("ipc: connection closed")

// Conn carries whole messages in both directions.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// FramedConn sends length-prefixed frames over a byte stream.
type FramedConn struct {
	rwc      io.ReadWriteCloser
	writeMu  sync.Mutex
	compress bool
	closed   atomic.Bool
}

// ConnOption configures a FramedConn.
type ConnOption func(*FramedConn)

// WithCompression zstd-compresses every payload. Both ends must agree.
func WithCompression(enabled bool) ConnOption {
	return func(c *FramedConn) {
		c.compress = enabled
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(MaxFrameSize))
)

// NewFramedConn wraps rwc.
func NewFramedConn(rwc io.ReadWriteCloser, opts ...ConnOption) *FramedConn {
	c := &FramedConn{rwc: rwc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadMessage blocks until a full frame arrives.
func (c *FramedConn) ReadMessage() ([]byte, error) {
	payload, err := readFrame(c.rwc)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if !c.compress {
		return payload, nil
	}
	out, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: decompress frame: %w", err)
	}
	return out, nil
}

// WriteMessage sends payload as one frame. Safe for concurrent use.
func (c *FramedConn) WriteMessage(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.compress {
		payload = zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.rwc, payload)
}

// Close closes the underlying stream once.
func (c *FramedConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rwc.Close()
}

// DialUnix connects to a host listening on a unix socket.
func DialUnix(ctx context.Context, path string, opts ...ConnOption) (*FramedConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewFramedConn(conn, opts...), nil
}
