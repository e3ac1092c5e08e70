// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framer

import "time"

// Options configures Decoder and Writer behavior.
type Options struct {
	// ReadLimit caps the maximum accepted payload size in bytes for a Decoder.
	// Zero means no limit beyond the wire format's 32-bit length field.
	ReadLimit uint32

	// RetryDelay controls how Writer handles iox.ErrWouldBlock from the
	// underlying sink:
	//   - negative: nonblock, return ErrWouldBlock immediately
	//   - zero: yield (runtime.Gosched) and retry
	//   - positive: sleep for the duration and retry
	RetryDelay time.Duration
}

var defaultOptions = Options{
	ReadLimit:  0,
	RetryDelay: -1, // default: nonblock, caller observes backpressure directly
}

type Option func(*Options)

// WithReadLimit bounds the payload size a Decoder will accept. A frame
// whose declared length exceeds limit yields ErrTooLong instead of an
// allocation.
func WithReadLimit(limit uint32) Option {
	return func(o *Options) { o.ReadLimit = limit }
}

// WithRetryDelay sets the retry/wait policy a Writer uses when the
// underlying sink returns iox.ErrWouldBlock.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithBlock enables cooperative blocking (yield-and-retry) on iox.ErrWouldBlock.
func WithBlock() Option {
	return func(o *Options) { o.RetryDelay = 0 }
}

// WithNonblock forces non-blocking behavior: WriteFrame returns
// iox.ErrWouldBlock immediately instead of retrying.
func WithNonblock() Option {
	return func(o *Options) { o.RetryDelay = -1 }
}
