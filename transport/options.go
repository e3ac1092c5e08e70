// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

// Options configures a Transport.
type Options struct {
	// ReadBufferSize is the size of the buffer used for raw reads off the
	// underlying stream before handing chunks to the Framer.
	ReadBufferSize int
	// ReadLimit caps the accepted frame length; 0 means unlimited. Guards
	// against a hostile or buggy peer claiming a multi-gigabyte frame.
	ReadLimit uint32
}

var defaultOptions = Options{
	ReadBufferSize: 32 * 1024,
	ReadLimit:      0,
}

// Option mutates Options.
type Option func(*Options)

// WithReadBufferSize sets the raw-read buffer size.
func WithReadBufferSize(n int) Option {
	return func(o *Options) { o.ReadBufferSize = n }
}

// WithReadLimit caps the accepted frame length.
func WithReadLimit(limit uint32) Option {
	return func(o *Options) { o.ReadLimit = limit }
}
