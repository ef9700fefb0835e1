package registry

import (
	"sort"
	"sync"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"

	"go.uber.org/zap"
)

// MemoryRegistry maps each online user to the set of their live connections.
// It is the only shared mutable state of the relay; the mutex serializes all
// mutations so that no connection id ever appears under two users and an
// empty set is always removed (absence means offline).
type MemoryRegistry struct {
	mu    sync.RWMutex
	users map[domain.UserID]map[domain.ConnectionID]*domain.Connection
	index map[domain.ConnectionID]domain.UserID

	listener ports.PresenceListener
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
}

func NewMemoryRegistry(metrics ports.Metrics, logger *zap.SugaredLogger) *MemoryRegistry {
	return &MemoryRegistry{
		users:   make(map[domain.UserID]map[domain.ConnectionID]*domain.Connection),
		index:   make(map[domain.ConnectionID]domain.UserID),
		metrics: metrics,
		logger:  logger,
	}
}

// SetListener installs the presence listener. Must be called during wiring,
// before connections start arriving.
func (r *MemoryRegistry) SetListener(l ports.PresenceListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

func (r *MemoryRegistry) Register(conn *domain.Connection) error {
	r.mu.Lock()

	if _, exists := r.index[conn.ID()]; exists {
		r.mu.Unlock()
		return domain.ErrDuplicateConnection
	}

	set, ok := r.users[conn.User()]
	if !ok {
		set = make(map[domain.ConnectionID]*domain.Connection)
		r.users[conn.User()] = set
	}
	set[conn.ID()] = conn
	r.index[conn.ID()] = conn.User()

	snap := r.snapshotLocked()
	listener := r.listener
	r.mu.Unlock()

	r.metrics.RecordConnectionOpened()
	r.metrics.SetUsersOnline(len(snap.Online))
	r.logger.Infow("connection registered",
		"connection_id", conn.ID(),
		"user_id", conn.User(),
	)

	// Notified strictly after the mutation is applied, so no client can
	// observe a delivery referencing a user absent from presence.
	if listener != nil {
		listener.PresenceChanged(snap)
	}
	return nil
}

// Unregister is idempotent: connection close races with forced
// unregistration on push failure, and both paths may run.
func (r *MemoryRegistry) Unregister(conn *domain.Connection) {
	r.mu.Lock()

	user, exists := r.index[conn.ID()]
	if !exists {
		r.mu.Unlock()
		return
	}

	delete(r.index, conn.ID())
	if set, ok := r.users[user]; ok {
		delete(set, conn.ID())
		if len(set) == 0 {
			delete(r.users, user)
		}
	}

	snap := r.snapshotLocked()
	listener := r.listener
	r.mu.Unlock()

	r.metrics.RecordConnectionClosed(time.Since(conn.OpenedAt()).Seconds())
	r.metrics.SetUsersOnline(len(snap.Online))
	r.logger.Infow("connection unregistered",
		"connection_id", conn.ID(),
		"user_id", user,
	)

	if listener != nil {
		listener.PresenceChanged(snap)
	}
}

// ConnectionsFor returns a point-in-time snapshot of the user's live
// connections, sorted by id so delivery order is deterministic. Safe to
// iterate without holding any registry lock.
func (r *MemoryRegistry) ConnectionsFor(user domain.UserID) []*domain.Connection {
	r.mu.RLock()
	set := r.users[user]
	conns := make([]*domain.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

func (r *MemoryRegistry) Connections() []*domain.Connection {
	r.mu.RLock()
	conns := make([]*domain.Connection, 0, len(r.index))
	for _, set := range r.users {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

func (r *MemoryRegistry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	users := make([]domain.UserID, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (r *MemoryRegistry) Snapshot() domain.PresenceSnapshot {
	r.mu.RLock()
	snap := r.snapshotLocked()
	r.mu.RUnlock()
	return snap
}

func (r *MemoryRegistry) snapshotLocked() domain.PresenceSnapshot {
	online := make([]domain.UserID, 0, len(r.users))
	for u := range r.users {
		online = append(online, u)
	}
	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })

	return domain.PresenceSnapshot{
		Online:  online,
		TakenAt: time.Now(),
	}
}
