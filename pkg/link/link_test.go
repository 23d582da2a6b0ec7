package link

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetguard/dplane/pkg/packet"
)

func TestPushPullFIFOOrder(t *testing.T) {
	l := New(4)
	pool := packet.NewPool(64)
	a, b, c := pool.Get(), pool.Get(), pool.Get()
	require.NoError(t, a.Append([]byte("a")))
	require.NoError(t, b.Append([]byte("b")))
	require.NoError(t, c.Append([]byte("c")))

	require.True(t, l.Push(a))
	require.True(t, l.Push(b))
	require.True(t, l.Push(c))

	got, ok := l.Pull()
	require.True(t, ok)
	require.Equal(t, "a", string(got.Bytes()))

	got, ok = l.Pull()
	require.True(t, ok)
	require.Equal(t, "b", string(got.Bytes()))
}

func TestPushFailsWhenFull(t *testing.T) {
	l := New(2)
	pool := packet.NewPool(64)
	require.True(t, l.Push(pool.Get()))
	require.True(t, l.Push(pool.Get()))
	require.True(t, l.Full())
	require.False(t, l.Push(pool.Get()))
}

func TestPullFailsWhenEmpty(t *testing.T) {
	l := New(2)
	require.True(t, l.Empty())
	_, ok := l.Pull()
	require.False(t, ok)
}

func TestDrainStopsOnConsumerFalse(t *testing.T) {
	l := New(4)
	pool := packet.NewPool(64)
	for i := 0; i < 3; i++ {
		l.Push(pool.Get())
	}
	seen := 0
	l.Drain(func(pk *packet.Packet) bool {
		seen++
		return seen < 2
	})
	require.Equal(t, 2, seen)
	require.Equal(t, 1, l.Len())
}

func TestWrapAroundRingBehavior(t *testing.T) {
	l := New(2)
	pool := packet.NewPool(64)
	p1, p2 := pool.Get(), pool.Get()
	l.Push(p1)
	l.Push(p2)
	l.Pull()
	p3 := pool.Get()
	require.True(t, l.Push(p3))
	require.Equal(t, 2, l.Len())
}
