package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLifecycle(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 4, 100*time.Millisecond)

	assert.Equal(t, StateAuthenticated, conn.State())
	assert.Equal(t, ConnectionID("conn_1"), conn.ID())
	assert.Equal(t, UserID("alice"), conn.User())

	require.NoError(t, conn.MarkOpen())
	assert.Equal(t, StateOpen, conn.State())

	// MarkOpen is a one-way transition
	assert.Error(t, conn.MarkOpen())

	conn.Close()
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 4, 100*time.Millisecond)
	require.NoError(t, conn.MarkOpen())

	conn.Close()
	conn.Close()
	conn.Close()

	assert.Equal(t, StateClosed, conn.State())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestConnectionPushPreservesOrder(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 8, 100*time.Millisecond)
	require.NoError(t, conn.MarkOpen())

	frames := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, f := range frames {
		require.NoError(t, conn.Push(f))
	}

	for _, want := range frames {
		select {
		case got := <-conn.Outbound():
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("expected a queued frame")
		}
	}
}

func TestConnectionPushTimesOutWhenQueueFull(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 1, 20*time.Millisecond)
	require.NoError(t, conn.MarkOpen())

	require.NoError(t, conn.Push([]byte("fills the queue")))

	err := conn.Push([]byte("no room"))
	assert.ErrorIs(t, err, ErrPushTimeout)
}

func TestConnectionPushAfterClose(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 4, 100*time.Millisecond)
	require.NoError(t, conn.MarkOpen())
	conn.Close()

	err := conn.Push([]byte("too late"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionCloseUnblocksPush(t *testing.T) {
	conn := NewConnection("conn_1", "alice", 1, 5*time.Second)
	require.NoError(t, conn.MarkOpen())
	require.NoError(t, conn.Push([]byte("fills the queue")))

	errc := make(chan error, 1)
	go func() {
		errc <- conn.Push([]byte("blocked"))
	}()

	time.Sleep(10 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("Push should have been unblocked by Close")
	}
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
}
