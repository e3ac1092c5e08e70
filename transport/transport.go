// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport owns a duplex byte stream, drives a framer.Decoder on
// inbound bytes, applies a Codec to each inbound frame and outbound message,
// and surfaces message/drain/error/disconnect as channels.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"code.hybscloud.com/mesh/framer"
)

// Transport frames and codes messages over a duplex byte stream. It owns
// the stream exclusively and closes it on disconnect when the stream
// implements io.Closer.
type Transport struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer
	codec  Codec

	dec *framer.Decoder
	wr  *framer.Writer

	writeMu sync.Mutex
	blocked bool

	messages     chan any
	drain        chan struct{}
	errs         chan error
	disconnected chan error
	quit         chan struct{}
	closeOnce    sync.Once

	readBufferSize int
}

// New wraps rw (used for both reading and writing) as a Transport. It fails
// immediately if rw is nil. If rw also implements io.Closer, it is closed on
// disconnect.
func New(rw io.ReadWriter, codec Codec, opts ...Option) (*Transport, error) {
	if rw == nil {
		return nil, ErrInvalidArgument
	}
	closer, _ := rw.(io.Closer)
	return newTransport(rw, rw, closer, codec, opts...)
}

// NewConn wraps conn as a Transport, closing conn on disconnect.
func NewConn(conn net.Conn, codec Codec, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, ErrInvalidArgument
	}
	return newTransport(conn, conn, conn, codec, opts...)
}

func newTransport(r io.Reader, w io.Writer, closer io.Closer, codec Codec, opts ...Option) (*Transport, error) {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if codec == nil {
		codec = CBORCodec{}
	}

	t := &Transport{
		r:              r,
		w:              w,
		closer:         closer,
		codec:          codec,
		dec:            framer.NewDecoder(framer.WithReadLimit(o.ReadLimit)),
		wr:             framer.NewWriter(w, framer.WithNonblock()),
		messages:       make(chan any),
		drain:          make(chan struct{}, 1),
		errs:           make(chan error, 16),
		disconnected:   make(chan error, 1),
		quit:           make(chan struct{}),
		readBufferSize: o.ReadBufferSize,
	}
	go t.readLoop()
	return t, nil
}

// Send serializes msg, frames it, and writes it. The returned bool reports
// the underlying sink's "safe to keep writing" signal: false means a
// subsequent Drain() event should be awaited before sending more.
func (t *Transport) Send(msg any) (bool, error) {
	payload, err := t.codec.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("transport: encode message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_, err = t.wr.WriteFrame(payload)
	if err != nil {
		if errors.Is(err, framer.ErrWouldBlock) || errors.Is(err, framer.ErrMore) {
			t.blocked = true
			return false, nil
		}
		t.disconnect(err)
		return false, err
	}
	if t.blocked {
		t.blocked = false
		select {
		case t.drain <- struct{}{}:
		default:
		}
	}
	return true, nil
}

// Messages delivers each successfully decoded inbound message in arrival
// order. It is unbuffered: a send blocks the read loop until received, so
// that Disconnected never fires before a message already decoded off the
// wire has been delivered — unless disconnect happens first (app-initiated
// Close, or a concurrent read error), in which case the in-flight message is
// dropped rather than left to wedge the read loop forever.
func (t *Transport) Messages() <-chan any { return t.messages }

// Drain fires once the sink has recovered from reporting back-pressure.
func (t *Transport) Drain() <-chan struct{} { return t.drain }

// Errors delivers non-terminal errors: frames that failed to decode. The
// offending frame is dropped and the Transport continues.
func (t *Transport) Errors() <-chan error { return t.errs }

// Disconnected delivers exactly one value — the terminal error, or nil for
// a clean close — and is then closed. No Messages or Drain event is ever
// delivered after Disconnected fires.
func (t *Transport) Disconnected() <-chan error { return t.disconnected }

// Close tears the Transport down as if a stream error with err had
// occurred. Idempotent.
func (t *Transport) Close(err error) error {
	t.disconnect(err)
	return nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, t.readBufferSize)
	for {
		n, err := t.r.Read(buf)
		if n > 0 {
			if ferr := t.dec.Feed(buf[:n], t.onFrame); ferr != nil {
				t.disconnect(ferr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				t.disconnect(nil)
			} else {
				t.disconnect(err)
			}
			return
		}
	}
}

func (t *Transport) onFrame(payload []byte) error {
	msg, err := t.codec.Unmarshal(payload)
	if err != nil {
		select {
		case t.errs <- fmt.Errorf("transport: decode frame: %w", err):
		default:
		}
		return nil
	}
	select {
	case t.messages <- msg:
	case <-t.quit:
	}
	return nil
}

func (t *Transport) disconnect(err error) {
	t.closeOnce.Do(func() {
		close(t.quit)
		if t.closer != nil {
			_ = t.closer.Close()
		}
		t.disconnected <- err
		close(t.disconnected)
	})
}
