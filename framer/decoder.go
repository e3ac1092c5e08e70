// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package framer implements the length-prefix framing layer for the mesh
// wire protocol.
//
// Wire format: a 4-byte big-endian unsigned length prefix N followed by
// exactly N payload bytes. Payloads are opaque to Decoder and Writer; the
// structured-value codec lives one layer up, in package transport.
package framer

import (
	"encoding/binary"
)

// header/payload state machine states. 0..3 accumulate the 4-byte length
// prefix one byte at a time; 4 accumulates the payload itself.
const (
	stateHeader0 uint8 = iota
	stateHeader1
	stateHeader2
	stateHeader3
	statePayload
)

// Decoder converts a stream of arbitrarily-chunked bytes into discrete frame
// payloads. It is a pure function of its input: Feed carries no I/O policy
// of its own and performs no reads or writes, only bookkeeping over the
// bytes it is handed.
//
// A zero Decoder is ready to use. Decoder is not safe for concurrent use;
// each Transport drives its own Decoder from a single reader goroutine.
type Decoder struct {
	state  uint8
	length uint32
	buffer []byte
	offset int

	readLimit uint32
}

// NewDecoder returns a Decoder ready to accept bytes via Feed.
func NewDecoder(opts ...Option) *Decoder {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &Decoder{readLimit: o.ReadLimit}
}

// Feed consumes chunk, delivering each frame payload completed within this
// call to onFrame, in arrival order, before Feed returns. A single frame may
// span arbitrarily many Feed calls; multiple frames may complete within one
// chunk.
//
// If onFrame returns a non-nil error, Feed stops immediately and propagates
// that error without consuming the remainder of chunk; the Decoder's
// internal state reflects the frame having already been delivered, so a
// caller that wants to keep decoding after handling the error must re-Feed
// the unconsumed remainder (Feed does not expose how much of chunk it
// consumed, by design — callers that need this should deliver chunk one
// frame at a time by returning an error only for fatal conditions).
//
// Feed itself never fails on malformed input: any byte sequence is a valid
// prefix of some frame stream. The only internal error is ErrTooLong, raised
// when a declared length exceeds the configured ReadLimit.
func (d *Decoder) Feed(chunk []byte, onFrame func([]byte) error) error {
	for len(chunk) > 0 {
		if d.state < statePayload {
			d.length = d.length<<8 | uint32(chunk[0])
			chunk = chunk[1:]
			d.state++
			if d.state != statePayload {
				continue
			}
			if d.readLimit > 0 && d.length > d.readLimit {
				d.reset()
				return ErrTooLong
			}
			d.buffer = make([]byte, d.length)
			d.offset = 0
			if d.length == 0 {
				// Empty frame completes the instant the header is parsed.
				d.state = stateHeader0
				if err := onFrame(d.buffer); err != nil {
					return err
				}
			}
			continue
		}

		n := copy(d.buffer[d.offset:], chunk)
		d.offset += n
		chunk = chunk[n:]
		if d.offset == int(d.length) {
			payload := d.buffer
			d.reset()
			if err := onFrame(payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) reset() {
	d.state = stateHeader0
	d.length = 0
	d.buffer = nil
	d.offset = 0
}

// AppendHeader appends the 4-byte big-endian length prefix for payload of
// length n to dst and returns the extended slice. Exposed so callers that
// build their own buffered writes (rather than using Writer) stay byte-for-
// byte compatible with Decoder.
func AppendHeader(dst []byte, n uint32) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], n)
	return append(dst, hdr[:]...)
}

// MaxFrameLength is the largest payload length representable by the 4-byte
// big-endian length prefix.
const MaxFrameLength = 1<<32 - 1
