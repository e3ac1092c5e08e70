// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framer

import (
	"io"
	"runtime"
	"time"

	"code.hybscloud.com/iox"
)

// These are provided as package-level aliases so callers can reference the
// semantic control-flow errors without importing iox directly.
var (
	// ErrWouldBlock means "no further progress without waiting". It is an
	// expected, non-failure control-flow signal for non-blocking sinks.
	ErrWouldBlock = iox.ErrWouldBlock

	// ErrMore means "this completion is usable and more completions will
	// follow" — the write is still in flight.
	ErrMore = iox.ErrMore
)

// Writer writes length-prefixed frames to an underlying io.Writer.
type Writer struct {
	wr         io.Writer
	retryDelay time.Duration
}

// NewWriter returns a Writer that frames payloads onto w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &Writer{wr: w, retryDelay: o.RetryDelay}
}

// WriteFrame writes payload as one frame: a 4-byte big-endian length prefix
// followed by payload, honoring io.Writer's short-write contract. If the
// underlying sink reports iox.ErrWouldBlock or iox.ErrMore, WriteFrame
// either retries per the configured RetryDelay or returns the error
// immediately (WithNonblock, the default) so the caller can surface it as a
// "not drained" signal.
func (w *Writer) WriteFrame(payload []byte) (int, error) {
	if w.wr == nil {
		return 0, ErrInvalidArgument
	}
	if uint64(len(payload)) > MaxFrameLength {
		return 0, ErrTooLong
	}

	hdr := AppendHeader(make([]byte, 0, 4), uint32(len(payload)))
	if err := w.writeFull(hdr); err != nil {
		return 0, err
	}
	if err := w.writeFull(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (w *Writer) writeFull(p []byte) error {
	for len(p) > 0 {
		n, err := w.writeOnce(p)
		p = p[n:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeOnce(p []byte) (n int, err error) {
	for {
		n, err = w.wr.Write(p)
		// Guard against broken Writers that violate the io.Writer contract
		// by returning (0, nil) on a non-empty buffer.
		if len(p) != 0 && n == 0 && err == nil {
			return 0, io.ErrShortWrite
		}
		if n > 0 {
			return n, err
		}
		if err != ErrWouldBlock && err != ErrMore {
			return n, err
		}
		if !w.waitOnceOnWouldBlock() {
			return n, err
		}
	}
}

func (w *Writer) waitOnceOnWouldBlock() bool {
	if w.retryDelay < 0 {
		return false
	}
	if w.retryDelay == 0 {
		runtime.Gosched()
		return true
	}
	time.Sleep(w.retryDelay)
	return true
}
