package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() *MemoryRegistry {
	return NewMemoryRegistry(ports.NopMetrics{}, zap.NewNop().Sugar())
}

func newTestConn(id, user string) *domain.Connection {
	c := domain.NewConnection(domain.ConnectionID(id), domain.UserID(user), 16, 100*time.Millisecond)
	c.MarkOpen()
	return c
}

// snapshotRecorder collects every snapshot it is notified with.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []domain.PresenceSnapshot
}

func (r *snapshotRecorder) PresenceChanged(snap domain.PresenceSnapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *snapshotRecorder) all() []domain.PresenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PresenceSnapshot(nil), r.snaps...)
}

func TestRegisterAndLookup(t *testing.T) {
	reg := newTestRegistry()

	conn := newTestConn("conn_1", "alice")
	require.NoError(t, reg.Register(conn))

	conns := reg.ConnectionsFor("alice")
	require.Len(t, conns, 1)
	assert.Equal(t, conn, conns[0])

	assert.Equal(t, []domain.UserID{"alice"}, reg.OnlineUsers())
	assert.Empty(t, reg.ConnectionsFor("bob"))
}

func TestRegisterDuplicateConnectionID(t *testing.T) {
	reg := newTestRegistry()

	require.NoError(t, reg.Register(newTestConn("conn_1", "alice")))

	err := reg.Register(newTestConn("conn_1", "alice"))
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)

	// Same id under a different user must also be refused.
	err = reg.Register(newTestConn("conn_1", "bob"))
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)

	assert.Len(t, reg.Connections(), 1)
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	reg := newTestRegistry()

	phone := newTestConn("conn_phone", "alice")
	laptop := newTestConn("conn_laptop", "alice")
	require.NoError(t, reg.Register(phone))
	require.NoError(t, reg.Register(laptop))

	conns := reg.ConnectionsFor("alice")
	require.Len(t, conns, 2)
	// Sorted by connection id for deterministic delivery order.
	assert.Equal(t, domain.ConnectionID("conn_laptop"), conns[0].ID())
	assert.Equal(t, domain.ConnectionID("conn_phone"), conns[1].ID())

	// One device going away does not take the user offline.
	reg.Unregister(phone)
	assert.Len(t, reg.ConnectionsFor("alice"), 1)
	assert.Equal(t, []domain.UserID{"alice"}, reg.OnlineUsers())

	reg.Unregister(laptop)
	assert.Empty(t, reg.ConnectionsFor("alice"))
	assert.Empty(t, reg.OnlineUsers())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry()

	conn := newTestConn("conn_1", "alice")
	require.NoError(t, reg.Register(conn))

	reg.Unregister(conn)
	reg.Unregister(conn)

	assert.Empty(t, reg.Connections())
	assert.Empty(t, reg.OnlineUsers())
}

func TestListenerNotifiedAfterMutation(t *testing.T) {
	reg := newTestRegistry()
	rec := &snapshotRecorder{}
	reg.SetListener(rec)

	alice := newTestConn("conn_1", "alice")
	bob := newTestConn("conn_2", "bob")
	require.NoError(t, reg.Register(alice))
	require.NoError(t, reg.Register(bob))
	reg.Unregister(alice)

	snaps := rec.all()
	require.Len(t, snaps, 3)
	assert.Equal(t, []domain.UserID{"alice"}, snaps[0].Online)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, snaps[1].Online)
	assert.Equal(t, []domain.UserID{"bob"}, snaps[2].Online)
}

func TestSnapshotIsSorted(t *testing.T) {
	reg := newTestRegistry()

	for _, u := range []string{"zoe", "alice", "mallory"} {
		require.NoError(t, reg.Register(newTestConn("conn_"+u, u)))
	}

	snap := reg.Snapshot()
	assert.Equal(t, []domain.UserID{"alice", "mallory", "zoe"}, snap.Online)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestConcurrentChurn(t *testing.T) {
	reg := newTestRegistry()
	reg.SetListener(&snapshotRecorder{})

	const users = 8
	const connsPerUser = 20

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				conn := newTestConn(
					fmt.Sprintf("conn_%d_%d", u, c),
					fmt.Sprintf("user_%d", u),
				)
				require.NoError(t, reg.Register(conn))
				if c%2 == 0 {
					reg.Unregister(conn)
				}
			}(u, c)
		}
	}
	wg.Wait()

	// Half the connections of every user survive.
	assert.Len(t, reg.Connections(), users*connsPerUser/2)
	assert.Len(t, reg.OnlineUsers(), users)

	// No connection id appears twice.
	seen := make(map[domain.ConnectionID]bool)
	for _, conn := range reg.Connections() {
		assert.False(t, seen[conn.ID()], "connection id %s appears twice", conn.ID())
		seen[conn.ID()] = true
	}
}
