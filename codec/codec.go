// Package codec provides the two pluggable encodings vsdb's typed maps
// build on: a general value codec (self-describing, arbitrary bytes) and
// an order-preserving key codec, whose encoded byte order must equal the
// logical order of the source type.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// ValueCodec encodes/decodes values of type V to/from arbitrary bytes. Any
// deterministic, round-trippable encoding qualifies.
type ValueCodec[V any] interface {
	EncodeValue(v V) ([]byte, error)
	DecodeValue(b []byte) (V, error)
}

// KeyCodec encodes/decodes keys of type K to/from bytes such that, for all
// a, b of type K: a < b iff Encode(a) < Encode(b) lexicographically. range,
// get_le, get_ge, first and last all rely on this property.
type KeyCodec[K any] interface {
	EncodeKey(k K) ([]byte, error)
	DecodeKey(b []byte) (K, error)
}

// JSONValueCodec encodes values with encoding/json. It is self-describing
// and round-trippable, but not order-preserving, so it is only ever used
// as a ValueCodec, never as a KeyCodec.
type JSONValueCodec[V any] struct{}

func (JSONValueCodec[V]) EncodeValue(v V) ([]byte, error) { return json.Marshal(v) }

func (JSONValueCodec[V]) DecodeValue(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// RawBytesCodec is the identity codec: bytes in, bytes out. It is order
// preserving (lexicographic byte order is the order), so it is valid as
// both a KeyCodec[[]byte] and a ValueCodec[[]byte].
type RawBytesCodec struct{}

func (RawBytesCodec) EncodeValue(v []byte) ([]byte, error) { return v, nil }
func (RawBytesCodec) DecodeValue(b []byte) ([]byte, error) { return b, nil }
func (RawBytesCodec) EncodeKey(k []byte) ([]byte, error)   { return k, nil }
func (RawBytesCodec) DecodeKey(b []byte) ([]byte, error)   { return b, nil }

// StringCodec encodes strings as their raw UTF-8 bytes, which preserves
// lexicographic order since Go string comparison is itself byte-wise.
type StringCodec struct{}

func (StringCodec) EncodeValue(v string) ([]byte, error) { return []byte(v), nil }
func (StringCodec) DecodeValue(b []byte) (string, error) { return string(b), nil }
func (StringCodec) EncodeKey(k string) ([]byte, error)    { return []byte(k), nil }
func (StringCodec) DecodeKey(b []byte) (string, error)    { return string(b), nil }

// Uint64Codec encodes uint64 as 8-byte big-endian, which is order
// preserving because big-endian byte order matches numeric order.
type Uint64Codec struct{}

func (Uint64Codec) EncodeValue(v uint64) ([]byte, error) { return encodeU64(v), nil }

func (Uint64Codec) DecodeValue(b []byte) (uint64, error) { return decodeU64(b) }

func (Uint64Codec) EncodeKey(k uint64) ([]byte, error) { return encodeU64(k), nil }

func (Uint64Codec) DecodeKey(b []byte) (uint64, error) { return decodeU64(b) }

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: Uint64Codec: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64Codec encodes int64 order-preservingly by flipping the sign bit,
// which maps the signed range onto the same order as the unsigned range
// big-endian encoding already preserves.
type Int64Codec struct{}

func (Int64Codec) EncodeValue(v int64) ([]byte, error) { return encodeI64(v), nil }
func (Int64Codec) DecodeValue(b []byte) (int64, error) { return decodeI64(b) }
func (Int64Codec) EncodeKey(k int64) ([]byte, error)   { return encodeI64(k), nil }
func (Int64Codec) DecodeKey(b []byte) (int64, error)   { return decodeI64(b) }

func encodeI64(v int64) []byte {
	u := uint64(v) ^ (1 << 63)
	return encodeU64(u)
}

func decodeI64(b []byte) (int64, error) {
	u, err := decodeU64(b)
	if err != nil {
		return 0, err
	}
	return int64(u ^ (1 << 63)), nil
}

// Float64Codec encodes float64 order-preservingly: for floats whose sign
// bit is clear flip the sign bit, for floats whose sign bit is set
// (negative values and -0) flip every bit. This maps IEEE-754
// bit patterns onto an order matching the numeric order for all finite
// values (NaN excluded, as it has no defined order).
type Float64Codec struct{}

func (Float64Codec) EncodeValue(v float64) ([]byte, error) { return encodeF64(v), nil }
func (Float64Codec) DecodeValue(b []byte) (float64, error) { return decodeF64(b) }
func (Float64Codec) EncodeKey(k float64) ([]byte, error)   { return encodeF64(k), nil }
func (Float64Codec) DecodeKey(b []byte) (float64, error)   { return decodeF64(b) }

func encodeF64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return encodeU64(bits)
}

func decodeF64(b []byte) (float64, error) {
	bits, err := decodeU64(b)
	if err != nil {
		return 0, err
	}
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
