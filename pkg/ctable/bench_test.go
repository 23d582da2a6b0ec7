package ctable

// bench_test.go provides reproducible micro-benchmarks for CTable.
// Run via: go test ./pkg/ctable -bench=. -benchmem
//
// Single key/value pairing reused across benchmarks so results are
// comparable across versions; covers Add, point LookupPtr, and
// streaming lookup workloads with ns/op + alloc/op output.

import (
	"encoding/binary"
	"testing"
)

type benchVal struct {
	a, b uint32
}

func benchCodec() FuncCodec[uint32, benchVal] {
	return Uint32KeyCodec[benchVal](8,
		func(v benchVal, dst []byte) {
			binary.LittleEndian.PutUint32(dst[0:4], v.a)
			binary.LittleEndian.PutUint32(dst[4:8], v.b)
		},
		func(src []byte) benchVal {
			return benchVal{a: binary.LittleEndian.Uint32(src[0:4]), b: binary.LittleEndian.Uint32(src[4:8])}
		},
	)
}

func BenchmarkAdd(b *testing.B) {
	codec := benchCodec()
	table := New[uint32, benchVal](codec, uint32(b.N)/2+1)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = table.Add(uint32(i), benchVal{a: uint32(i), b: uint32(i) * 2}, ModeAllowUpdate)
	}
}

func BenchmarkLookupPtrHit(b *testing.B) {
	codec := benchCodec()
	const n = 1 << 20
	table := New[uint32, benchVal](codec, n)
	for i := 0; i < n; i++ {
		_, _ = table.Add(uint32(i), benchVal{a: uint32(i)}, ModeInsertOnly)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = table.LookupPtr(uint32(i % n))
	}
}

func BenchmarkStreamLookup(b *testing.B) {
	codec := benchCodec()
	const n = 1 << 20
	const width = 32
	table := New[uint32, benchVal](codec, n)
	for i := 0; i < n; i++ {
		_, _ = table.Add(uint32(i), benchVal{a: uint32(i)}, ModeInsertOnly)
	}
	streamer := table.NewStreamer(width)
	keys := make([]uint32, width)
	for i := range keys {
		keys[i] = uint32(i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range keys {
			keys[j] = uint32((i + j) % n)
		}
		streamer.Stream(keys)
	}
}
