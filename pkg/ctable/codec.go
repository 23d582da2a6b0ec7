package ctable

import "encoding/binary"

// FuncCodec adapts a handful of encode/decode closures into a Codec,
// letting callers avoid hand-writing a named type for every (K, V)
// pairing a table is instantiated with.
type FuncCodec[K comparable, V any] struct {
	KeySz, ValSz int
	EncKey       func(K, []byte)
	DecKey       func([]byte) K
	EncVal       func(V, []byte)
	DecVal       func([]byte) V
}

func (c FuncCodec[K, V]) KeySize() int               { return c.KeySz }
func (c FuncCodec[K, V]) ValueSize() int             { return c.ValSz }
func (c FuncCodec[K, V]) EncodeKey(k K, dst []byte)  { c.EncKey(k, dst) }
func (c FuncCodec[K, V]) DecodeKey(src []byte) K     { return c.DecKey(src) }
func (c FuncCodec[K, V]) EncodeValue(v V, dst []byte) { c.EncVal(v, dst) }
func (c FuncCodec[K, V]) DecodeValue(src []byte) V    { return c.DecVal(src) }

// Uint32KeyCodec builds a FuncCodec for the common case of a plain
// uint32 key (e.g. S5/S6's "populate with N entries keyed by u32"),
// given the value's own fixed-size encode/decode pair.
func Uint32KeyCodec[V any](valSize int, encVal func(V, []byte), decVal func([]byte) V) FuncCodec[uint32, V] {
	return FuncCodec[uint32, V]{
		KeySz:  4,
		ValSz:  valSize,
		EncKey: func(k uint32, dst []byte) { binary.LittleEndian.PutUint32(dst, k) },
		DecKey: func(src []byte) uint32 { return binary.LittleEndian.Uint32(src) },
		EncVal: encVal,
		DecVal: decVal,
	}
}
