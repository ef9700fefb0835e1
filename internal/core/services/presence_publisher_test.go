package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"
	"chatrelay/internal/infrastructure/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMirror struct {
	mu    sync.Mutex
	snaps []domain.PresenceSnapshot
}

func (m *fakeMirror) Store(_ context.Context, snap domain.PresenceSnapshot) error {
	m.mu.Lock()
	m.snaps = append(m.snaps, snap)
	m.mu.Unlock()
	return nil
}

func (m *fakeMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func (m *fakeMirror) last() domain.PresenceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[len(m.snaps)-1]
}

func newPublisherFixture(window time.Duration, mirror ports.PresenceMirror) (*PresencePublisher, *registry.MemoryRegistry) {
	reg := registry.NewMemoryRegistry(ports.NopMetrics{}, zap.NewNop().Sugar())
	pub := NewPresencePublisher(reg, mirror, ports.NopMetrics{}, window, zap.NewNop().Sugar())
	reg.SetListener(pub)
	return pub, reg
}

func readPresenceFrame(t *testing.T, conn *domain.Connection, timeout time.Duration) (domain.PresenceFrame, bool) {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		var frame domain.PresenceFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame, true
	case <-time.After(timeout):
		return domain.PresenceFrame{}, false
	}
}

func TestPublisherCoalescesChurnIntoOneBroadcast(t *testing.T) {
	const window = 50 * time.Millisecond

	pub, reg := newPublisherFixture(window, nil)
	pub.Start()
	defer pub.Stop()

	users := []string{"alice", "bob", "carol"}
	conns := make([]*domain.Connection, 0, len(users))
	for _, u := range users {
		conns = append(conns, openConn(t, reg, "conn_"+u, u))
	}

	// All three registrations landed inside one debounce window, so every
	// connection sees exactly one frame, carrying the settled online set.
	for _, conn := range conns {
		frame, ok := readPresenceFrame(t, conn, time.Second)
		require.True(t, ok, "connection %s should receive a presence frame", conn.ID())
		assert.Equal(t, domain.FrameTypePresence, frame.Type)
		assert.Equal(t, []domain.UserID{"alice", "bob", "carol"}, frame.Online)
	}

	for _, conn := range conns {
		_, ok := readPresenceFrame(t, conn, 3*window)
		assert.False(t, ok, "connection %s should not receive a second frame", conn.ID())
	}
}

func TestPublisherSnapshotTakenAtSendTime(t *testing.T) {
	const window = 50 * time.Millisecond

	pub, reg := newPublisherFixture(window, nil)
	pub.Start()
	defer pub.Stop()

	// alice connects and is gone before the window settles; bob takes her
	// place. The trailing broadcast must reflect the settled state, never the
	// state at kick time.
	alice := openConn(t, reg, "conn_alice", "alice")
	reg.Unregister(alice)
	bob := openConn(t, reg, "conn_bob", "bob")

	frame, ok := readPresenceFrame(t, bob, time.Second)
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{"bob"}, frame.Online)
}

func TestPublishSkipsNobodyOnSingleFailure(t *testing.T) {
	pub, reg := newPublisherFixture(0, nil)

	stuck := openConn(t, reg, "conn_stuck", "alice")
	healthy := openConn(t, reg, "conn_zz_healthy", "bob")
	stuck.Close()

	pub.Publish(reg.Snapshot())

	frame, ok := readPresenceFrame(t, healthy, time.Second)
	require.True(t, ok)
	assert.Equal(t, domain.FrameTypePresence, frame.Type)

	// The dead connection was dropped from the registry.
	assert.Empty(t, reg.ConnectionsFor("alice"))
	assert.Len(t, reg.ConnectionsFor("bob"), 1)
}

func TestPublishMirrorsSnapshot(t *testing.T) {
	mirror := &fakeMirror{}
	pub, reg := newPublisherFixture(0, mirror)

	openConn(t, reg, "conn_alice", "alice")
	pub.Publish(reg.Snapshot())

	require.Equal(t, 1, mirror.count())
	assert.Equal(t, []domain.UserID{"alice"}, mirror.last().Online)
}

func TestPresenceChangedNeverBlocks(t *testing.T) {
	pub, reg := newPublisherFixture(time.Hour, nil)

	// The run loop is not draining; signals must still collapse, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			pub.PresenceChanged(reg.Snapshot())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PresenceChanged must not block")
	}
}

func TestPublisherStops(t *testing.T) {
	pub, _ := newPublisherFixture(10*time.Millisecond, nil)
	pub.Start()

	stopped := make(chan struct{})
	go func() {
		pub.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop should return once the loop exits")
	}
}
