// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framer

import "errors"

var (
	// ErrInvalidArgument reports a nil reader/writer or other invalid configuration.
	ErrInvalidArgument = errors.New("framer: invalid argument")

	// ErrTooLong reports that a frame length exceeds the configured ReadLimit
	// or the wire format's 32-bit length field.
	ErrTooLong = errors.New("framer: message too long")
)
