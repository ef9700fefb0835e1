package ports

import (
	"context"

	"chatrelay/internal/core/domain"
)

// Registry is the authoritative in-memory map from user identity to open
// connections. It is the single shared mutable resource of the relay; all
// mutations are serialized and every successful mutation notifies the
// presence listener strictly after it is applied.
type Registry interface {
	// Register adds the connection to its user's set. Fails with
	// domain.ErrDuplicateConnection if the connection id is already
	// registered under any user.
	Register(conn *domain.Connection) error

	// Unregister removes the connection wherever it lives. A no-op for
	// unknown connections: close paths race and idempotency is the contract.
	Unregister(conn *domain.Connection)

	// ConnectionsFor returns a point-in-time snapshot of the user's live
	// connections, sorted by connection id. Empty means offline.
	ConnectionsFor(user domain.UserID) []*domain.Connection

	// Connections returns a snapshot of every registered connection.
	Connections() []*domain.Connection

	// OnlineUsers returns all users with at least one connection.
	OnlineUsers() []domain.UserID

	// Snapshot captures the current presence state.
	Snapshot() domain.PresenceSnapshot

	// SetListener installs the presence listener. Must be called before
	// connections start arriving.
	SetListener(l PresenceListener)
}

// PresenceListener is notified after every registry mutation.
type PresenceListener interface {
	PresenceChanged(snap domain.PresenceSnapshot)
}

// SessionVerifier is the boundary to the external auth collaborator,
// invoked once per handshake.
type SessionVerifier interface {
	VerifySession(credential string) (domain.UserID, error)
}

// DeliveryRouter pushes a persisted message event to the recipient's open
// connections and echoes it to the sender's other devices.
type DeliveryRouter interface {
	Route(ctx context.Context, event domain.OutboundMessageEvent) domain.RouteResult
}

// PresenceMirror publishes the online set to an external store for
// dashboards. Write-only: the in-process registry stays the source of truth.
type PresenceMirror interface {
	Store(ctx context.Context, snap domain.PresenceSnapshot) error
}

// Metrics is the slice of the metrics collector the core components use.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed(lifetimeSeconds float64)
	SetUsersOnline(n int)
	RecordHandshakeRejected()
	RecordPresenceBroadcast()
	RecordPushFailure()
	RecordEventRouted(status string)
	RecordFrameDelivered(audience string)
}

// NopMetrics discards every observation. Useful in tests.
type NopMetrics struct{}

func (NopMetrics) RecordConnectionOpened()        {}
func (NopMetrics) RecordConnectionClosed(float64) {}
func (NopMetrics) SetUsersOnline(int)             {}
func (NopMetrics) RecordHandshakeRejected()       {}
func (NopMetrics) RecordPresenceBroadcast()       {}
func (NopMetrics) RecordPushFailure()             {}
func (NopMetrics) RecordEventRouted(string)       {}
func (NopMetrics) RecordFrameDelivered(string)    {}
