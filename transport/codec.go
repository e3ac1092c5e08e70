// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec is the structured-value serializer collaborator: it must be
// self-delimiting, deterministic, and lossless for the wire grammar (nil,
// bool, int64, float64, string, []byte, []any, map[string]any).
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// CBORCodec implements Codec on top of CBOR, whose native grammar (maps,
// arrays, text/byte strings, integers, floats, bool, null) is exactly the
// wire grammar the protocol requires, with no impedance mismatch.
type CBORCodec struct{}

var (
	cborEncMode = func() cbor.EncMode {
		mode, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return mode
	}()
	cborDecMode = func() cbor.DecMode {
		mode, err := cbor.DecOptions{
			DefaultMapType: reflect.TypeOf(map[string]any{}),
		}.DecMode()
		if err != nil {
			panic(err)
		}
		return mode
	}()
)

func (CBORCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (CBORCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v)
}

// normalize walks a freshly decoded CBOR value and brings it into the exact
// wire grammar: unsigned integers (which cbor decodes as uint64 when the
// target is interface{}) are narrowed to int64, matching Freeze/Liven's
// int64-only integer representation. A uint64 above math.MaxInt64 has no
// int64 representation, so it is rejected rather than silently wrapped into
// an unrelated negative value.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("transport: decode: integer %d exceeds int64 range", val)
		}
		return int64(val), nil
	case map[string]any:
		for k, elem := range val {
			norm, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			val[k] = norm
		}
		return val, nil
	case []any:
		for i, elem := range val {
			norm, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			val[i] = norm
		}
		return val, nil
	default:
		return val, nil
	}
}
