// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// identity kinds distinguish maps, slices and procedures that happen to
// share an address space so pointer collisions across kinds can't occur.
type identKind uint8

const (
	identMap identKind = iota
	identSlice
	identProc
)

type ident struct {
	kind identKind
	ptr  uintptr
}

// Freeze walks v depth-first and produces its wire-safe form: procedures are
// replaced by {"$": key} escapes obtained from store, and any node revisited
// by identity (including the node itself, for a self-cycle) is replaced by
// a {"$": path} back-reference to its first occurrence.
//
// Freeze restricts identity tracking to containers ([]any, map[string]any)
// and Proc values, matching the design note that primitives have no
// meaningful identity to share. Two distinct Proc values created from the
// same non-capturing function literal are, as a consequence of Go lacking
// first-class function identity, indistinguishable by Freeze — in practice
// every Proc passed across the wire is a fresh closure over call-specific
// state, so this does not arise for legitimate callbacks.
func Freeze(v any, store func(Proc) uint32) (any, error) {
	return freeze(v, nil, make(map[ident][]any), store)
}

func freeze(v any, path []any, visited map[ident][]any, store func(Proc) uint32) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, []byte:
		return val, nil
	case int:
		return int64(val), nil
	case int8, int16, int32, int64:
		return reflect.ValueOf(val).Int(), nil
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(val).Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("wire: freeze: integer %d exceeds int64 range", u)
		}
		return int64(u), nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case Proc:
		id := ident{identProc, reflect.ValueOf(val).Pointer()}
		if p, ok := visited[id]; ok {
			return backref(p), nil
		}
		visited[id] = clonePath(path)
		key := store(val)
		return map[string]any{EscapeKey: key}, nil
	case []any:
		// A zero-length slice has no addressable backing array and cannot
		// participate in a cycle, so it is never identity-tracked: treating
		// two independently-created empty slices as "the same node" would
		// be wrong, and there is nothing inside an empty sequence for a
		// cycle to run through.
		trackIdentity := len(val) > 0
		var id ident
		if trackIdentity {
			id = ident{identSlice, sliceIdentity(val)}
			if p, ok := visited[id]; ok {
				return backref(p), nil
			}
			visited[id] = clonePath(path)
		}
		out := make([]any, len(val))
		for i, elem := range val {
			frozen, err := freeze(elem, append(clonePath(path), int64(i)), visited, store)
			if err != nil {
				return nil, err
			}
			out[i] = frozen
		}
		return out, nil
	case map[string]any:
		// As with slices above, an empty mapping is never identity-tracked:
		// a nil map's reflect pointer is always zero and would otherwise
		// collide with every other nil map in the same message.
		trackIdentity := len(val) > 0
		var id ident
		if trackIdentity {
			id = ident{identMap, reflect.ValueOf(val).Pointer()}
			if p, ok := visited[id]; ok {
				return backref(p), nil
			}
			visited[id] = clonePath(path)
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			frozen, err := freeze(elem, append(clonePath(path), k), visited, store)
			if err != nil {
				return nil, err
			}
			out[escapeKey(k)] = frozen
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: freeze: unsupported value type %T", v)
	}
}

// escapeKey prepends an extra "$" to any genuine mapping key that would
// otherwise collide with the escape-form marker.
func escapeKey(k string) string {
	if strings.HasPrefix(k, EscapeKey) {
		return EscapeKey + k
	}
	return k
}

func backref(path []any) map[string]any {
	return map[string]any{EscapeKey: path}
}

func clonePath(path []any) []any {
	out := make([]any, len(path), len(path)+1)
	copy(out, path)
	return out
}

// sliceIdentity returns a stable identity for a non-nil []any's backing
// array, used to detect proper sharing/cycles the same way map identity is
// detected via its header pointer.
//
// Known limitation: this identifies a slice solely by its backing array's
// start address, so two slices that overlap without being the same
// value — e.g. one built by sub-slicing or appending within the other's
// capacity — can be treated as identical even though they hold different
// lengths or contents. Legitimate message values built from scratch for the
// wire don't alias backing arrays this way; a caller that freezes two
// independently-sliced views into one shared array is outside what this
// identity scheme was designed to distinguish.
func sliceIdentity(s []any) uintptr {
	if len(s) == 0 {
		// A nil or empty slice has no addressable backing array; treat it
		// as never shared (freezing it twice just produces two empty
		// sequences, which is harmless).
		return 0
	}
	return reflect.ValueOf(s).Pointer()
}
