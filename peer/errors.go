// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peer

import "errors"

var (
	ErrNotConnected      = errors.New("peer: not connected")
	ErrKeySpaceExhausted = errors.New("peer: callback key space exhausted")
	ErrProtocolViolation = errors.New("peer: protocol violation")
	ErrDisconnect        = errors.New("peer: disconnected")
)

func errOrDefault(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// ErrorValue is the conventional shape applications in this codebase use to
// convey a protocol-level error as a callback's first argument: a mapping
// with "code" and "message" keys, matching EDISCONNECT/ENOTCONNECTED.
func ErrorValue(code, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}
