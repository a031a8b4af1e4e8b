package ws

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

// pipeConnection returns a Connection over one end of an in-memory pipe and
// the client end.
func pipeConnection(t *testing.T, queue int) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection("conn-1", "user-1", server, queue, time.Second), client
}

func TestConnectionWritesQueuedFramesInOrder(t *testing.T) {
	c, client := pipeConnection(t, 8)
	go c.writeLoop()
	t.Cleanup(func() { c.Close() })

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, c.Send([]byte(s)))
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := wsutil.ReadServerText(client)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

func TestConnectionQueueFullCloses(t *testing.T) {
	c, _ := pipeConnection(t, 1)
	var closed atomic.Int32
	c.onClosed = func(*Connection) { closed.Add(1) }

	require.NoError(t, c.Send([]byte("a")))
	require.ErrorIs(t, c.Send([]byte("b")), ErrSendQueueFull)
	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Send([]byte("c")), ErrConnectionClosed)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	c, _ := pipeConnection(t, 1)
	var detached, closed int
	c.detach = func(*Connection) { detached++ }
	c.onClosed = func(got *Connection) {
		require.Same(t, c, got)
		closed++
	}

	require.True(t, c.MarkRegistered())
	require.Equal(t, StateRegistered, c.State())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, detached)
	require.Equal(t, 1, closed)
	require.Equal(t, StateClosed, c.State())
	require.False(t, c.MarkRegistered())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a := &Connection{ID: "a", Fd: 7}
	b := &Connection{ID: "b", Fd: -1}

	cm.Add(a)
	cm.Add(b)
	require.Equal(t, 2, cm.Count())
	require.Same(t, a, cm.Get("a"))
	require.Same(t, a, cm.GetByFd(7))
	require.Nil(t, cm.GetByFd(-1))
	require.Len(t, cm.All(), 2)

	require.True(t, cm.Remove("a"))
	require.False(t, cm.Remove("a"))
	require.Nil(t, cm.GetByFd(7))
	require.Equal(t, 1, cm.Count())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "unauthenticated", StateUnauthenticated.String())
	require.Equal(t, "registered", StateRegistered.String())
	require.Equal(t, "closed", StateClosed.String())
}
