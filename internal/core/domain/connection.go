package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type UserID string

type ConnectionID string

// ConnState tracks the lifecycle of a single transport session:
// Connecting -> Authenticated -> Open -> Closed. Closed is terminal,
// a reconnecting client always gets a new Connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one live bidirectional session bound to a user. The bound
// user is set at handshake and immutable afterwards. Outbound frames go
// through a bounded queue drained by the transport's write pump, so a slow
// client never blocks delivery to anyone else.
type Connection struct {
	id   ConnectionID
	user UserID

	state atomic.Int32

	outbound    chan []byte
	pushTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	openedAt  time.Time
}

// NewConnection creates a connection in the Authenticated state. The caller
// performs the credential check first; an unauthenticated socket never
// becomes a Connection at all.
func NewConnection(id ConnectionID, user UserID, queueSize int, pushTimeout time.Duration) *Connection {
	c := &Connection{
		id:          id,
		user:        user,
		outbound:    make(chan []byte, queueSize),
		pushTimeout: pushTimeout,
		done:        make(chan struct{}),
		openedAt:    time.Now(),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Connection) ID() ConnectionID { return c.id }

func (c *Connection) User() UserID { return c.user }

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// MarkOpen transitions Authenticated -> Open once registry registration
// succeeded. The transport is now eligible for delivery and presence frames.
func (c *Connection) MarkOpen() error {
	if !c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateOpen)) {
		return ErrConnectionClosed
	}
	return nil
}

// Push enqueues a frame for the write pump. It waits at most the push
// timeout when the queue is full; a stuck queue means a stuck client, and
// the caller is expected to force-close the connection on ErrPushTimeout.
func (c *Connection) Push(frame []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.pushTimeout)
	defer timer.Stop()

	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrPushTimeout
	}
}

// Outbound is drained by the transport's write pump.
func (c *Connection) Outbound() <-chan []byte { return c.outbound }

// Done is closed when the connection enters Closed, cancelling any
// in-flight Push.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close transitions to Closed exactly once, no matter how many close
// signals race (transport error, logout, server shutdown).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}
