package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketAppendAndBytes(t *testing.T) {
	pool := NewPool(DefaultHeadroom)
	p := pool.Get()
	require.Equal(t, 0, p.Len())

	require.NoError(t, p.Append([]byte("hello")))
	require.Equal(t, 5, p.Len())
	require.Equal(t, []byte("hello"), p.Bytes())
}

func TestPacketPrependConsumesHeadroom(t *testing.T) {
	pool := NewPool(16)
	p := pool.Get()
	require.NoError(t, p.Append([]byte("payload")))

	require.NoError(t, p.Prepend([]byte("HDR")))
	require.Equal(t, "HDRpayload", string(p.Bytes()))
	require.Equal(t, 13, p.Headroom())

	err := p.Prepend(make([]byte, 100))
	require.ErrorIs(t, err, errOverflow)
}

func TestPacketAppendOverflow(t *testing.T) {
	pool := NewPool(0)
	p := pool.Get()
	err := p.Append(make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, errOverflow)
}

func TestPoolRecyclesPackets(t *testing.T) {
	pool := NewPool(DefaultHeadroom)
	p1 := pool.Get()
	require.NoError(t, p1.Append([]byte("x")))
	pool.Put(p1)
	require.Equal(t, 1, pool.Len())

	p2 := pool.Get()
	require.Equal(t, 0, p2.Len(), "recycled packet must come back empty")
	require.Equal(t, 0, pool.Len())
}

func TestPacketCopyFromResetsHeadroom(t *testing.T) {
	pool := NewPool(32)
	p := pool.Get()
	require.NoError(t, p.Prepend([]byte("abc")))
	require.NoError(t, p.CopyFrom([]byte("new-payload")))
	require.Equal(t, "new-payload", string(p.Bytes()))
	require.Equal(t, 32, p.Headroom())
}
