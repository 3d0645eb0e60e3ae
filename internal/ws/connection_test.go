package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

func TestSendQueueFullClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newConnection("c1", "alice", server, 2, time.Second)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	require.ErrorIs(t, c.Send([]byte("c")), ErrSendQueueFull)
	require.ErrorIs(t, c.Send([]byte("d")), ErrConnectionClosed)

	// Frames queued before the overflow are still written, then the
	// connection closes.
	go c.writeLoop()
	for _, want := range []string{"a", "b"} {
		data, err := wsutil.ReadServerText(client)
		require.NoError(t, err)
		require.Equal(t, want, string(data))
	}

	select {
	case <-c.done:
	case <-time.After(time.Second):
		require.FailNow(t, "writer did not exit")
	}
	_, err := wsutil.ReadServerText(client)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newConnection("c1", "alice", server, 4, 0)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send([]byte("x")), ErrConnectionClosed)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	server, client := net.Pipe()
	defer client.Close()

	c := newConnection("c1", "alice", server, 1, 0)
	cm.Add(c)
	require.Equal(t, 1, cm.Count())
	require.Same(t, c, cm.Get("c1"))
	require.Len(t, cm.All(), 1)

	require.True(t, cm.Remove("c1"))
	require.False(t, cm.Remove("c1"))
	require.Zero(t, cm.Count())
	require.Nil(t, cm.Get("c1"))
}
