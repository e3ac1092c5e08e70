// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the freeze/liven marshaling layer: translation
// between live structured values — which may contain procedure references
// and in-message cycles or shared subgraphs — and wire-safe values, which
// contain neither, using the escape forms described by the mesh protocol.
//
// A structured value is, recursively: nil, bool, int64, float64, string,
// []byte, []any (an ordered sequence), map[string]any (a mapping), or — in
// live values only — a Proc. wire never interprets the leaves of that
// grammar; it only walks the container shape and recognizes Proc and
// repeated identity.
package wire

// Proc is a locally-held procedure reference. Calling it invokes the
// procedure with the given arguments; what "invoking" means is owned by
// whoever constructed the Proc — Freeze's caller for a local procedure
// being exported, or Liven's caller for a proxy representing a remote one.
type Proc func(args []any)

// EscapeKey is the single map key used for both escape forms on the wire:
// a procedure handle ({"$": uint32}) or a back-reference ({"$": []any}).
const EscapeKey = "$"

// isEscape reports whether m is exactly a single-key map under EscapeKey,
// i.e. one of the two escape forms rather than a genuine application
// mapping that happens to need key-escaping.
func isEscape(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	v, ok := m[EscapeKey]
	return v, ok
}
