// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "fmt"

// Liven is the inverse of Freeze: it walks a wire-safe value and reconstructs
// procedure references and shared/cyclic structure. get resolves a procedure
// handle (the uint32 obtained from a prior Freeze's store callback) back to
// a callable Proc (a Peer's get builds a proxy that sends the call back to
// the far side under that key).
//
// Back-references ({"$": path}) cannot be resolved as they are encountered:
// Freeze records a path as "first occurrence" in its own traversal order,
// but map iteration order is independent between Freeze (over the live map)
// and Liven (over the decoded wire map), so the node a path points to is not
// guaranteed to exist yet when Liven reaches the reference. Liven therefore
// runs in two passes: the first builds the entire skeleton, attaching every
// container into its parent slot as soon as it is created (so self/ancestor
// cycles have somewhere to point), and collects each back-reference's path
// and target slot instead of resolving it immediately. The second pass walks
// the now-complete skeleton and fills in every collected slot. A path always
// addresses a node Freeze built as genuine content — never another
// back-reference — so resolution order among the second pass's entries never
// matters.
func Liven(root any, get func(uint32) Proc) (any, error) {
	box := &struct{ v any }{}
	var pending []pendingBackref
	if err := livenNode(root, nil, func(v any) { box.v = v }, get, &pending); err != nil {
		return nil, err
	}
	for _, p := range pending {
		target, err := resolvePath(box.v, p.path)
		if err != nil {
			return nil, err
		}
		p.setSlot(target)
	}
	return box.v, nil
}

// pendingBackref records a back-reference discovered during the first pass:
// path names the node it points at, and setSlot installs that node into the
// slot the reference occupied once the second pass resolves it.
type pendingBackref struct {
	path    []any
	setSlot func(any)
}

// livenNode livens raw, found at path within the overall message, and
// delivers the result via setSlot. Back-references encountered are appended
// to pending rather than resolved in place.
func livenNode(raw any, path []any, setSlot func(any), get func(uint32) Proc, pending *[]pendingBackref) error {
	switch val := raw.(type) {
	case map[string]any:
		if escaped, ok := isEscape(val); ok {
			return livenEscape(escaped, setSlot, get, pending)
		}
		out := make(map[string]any, len(val))
		setSlot(out)
		for k, elem := range val {
			realKey := unescapeKey(k)
			childPath := append(clonePath(path), realKey)
			if err := livenNode(elem, childPath, func(v any) { out[realKey] = v }, get, pending); err != nil {
				return err
			}
		}
		return nil
	case []any:
		out := make([]any, len(val))
		setSlot(out)
		for i, elem := range val {
			idx := i
			childPath := append(clonePath(path), int64(idx))
			if err := livenNode(elem, childPath, func(v any) { out[idx] = v }, get, pending); err != nil {
				return err
			}
		}
		return nil
	default:
		setSlot(raw)
		return nil
	}
}

// livenEscape resolves one of the two escape forms: a procedure handle
// (a number, resolved immediately) or a back-reference (a path, []any,
// deferred to pending since its target may not exist yet).
func livenEscape(escaped any, setSlot func(any), get func(uint32) Proc, pending *[]pendingBackref) error {
	switch e := escaped.(type) {
	case []any:
		*pending = append(*pending, pendingBackref{path: e, setSlot: setSlot})
		return nil
	default:
		key, err := toUint32(escaped)
		if err != nil {
			return fmt.Errorf("wire: liven: invalid escape %v: %w", escaped, err)
		}
		setSlot(Proc(get(key)))
		return nil
	}
}

// unescapeKey is the inverse of escapeKey: a genuine mapping key that began
// with an extra "$" has it stripped back off.
func unescapeKey(k string) string {
	if len(k) > len(EscapeKey) && k[:len(EscapeKey)] == EscapeKey {
		return k[len(EscapeKey):]
	}
	return k
}

// resolvePath walks root by sequentially indexing it with path's components,
// each a string (mapping key) or an int64 (sequence index), as produced by
// Freeze's back-reference paths.
func resolvePath(root any, path []any) (any, error) {
	cur := root
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("wire: liven: back-reference path component %q not a mapping", key)
			}
			v, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("wire: liven: back-reference key %q not found", key)
			}
			cur = v
		case int64:
			s, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("wire: liven: back-reference index %d not a sequence", key)
			}
			if key < 0 || int(key) >= len(s) {
				return nil, fmt.Errorf("wire: liven: back-reference index %d out of range", key)
			}
			cur = s[key]
		default:
			return nil, fmt.Errorf("wire: liven: back-reference path component %v has unsupported type %T", step, step)
		}
	}
	return cur, nil
}

// toUint32 coerces a procedure-handle escape value to a uint32 key. Freeze
// always stores keys as uint32; the numeric alternatives are tolerated in
// case the value crossed a codec that normalizes integers to int64.
func toUint32(v any) (uint32, error) {
	switch n := v.(type) {
	case uint32:
		return n, nil
	case int64:
		if n < 0 || n > int64(^uint32(0)) {
			return 0, fmt.Errorf("value %d out of uint32 range", n)
		}
		return uint32(n), nil
	case int:
		if n < 0 || n > int(^uint32(0)) {
			return 0, fmt.Errorf("value %d out of uint32 range", n)
		}
		return uint32(n), nil
	case float64:
		if n < 0 || n != float64(uint32(n)) {
			return 0, fmt.Errorf("value %v not a valid uint32", n)
		}
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("unsupported escape value type %T", v)
	}
}
