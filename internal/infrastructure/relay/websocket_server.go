package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"
	"chatrelay/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options carries the transport timings for the WebSocket server.
type Options struct {
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	PushTimeout   time.Duration
	SendQueueSize int
	// IdleTimeout force-closes connections with no inbound traffic. Zero
	// disables it; liveness then relies on ping/pong alone.
	IdleTimeout time.Duration

	// ConnectionsPerMinute limits new connections per client IP. Zero
	// disables limiting.
	ConnectionsPerMinute float64
	ConnectionBurst      int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:  30 * time.Second,
		PongTimeout:   60 * time.Second,
		WriteTimeout:  10 * time.Second,
		PushTimeout:   2 * time.Second,
		SendQueueSize: 64,
	}
}

// WebSocketServer owns the per-connection lifecycle: handshake
// authentication, identity binding, registration, read/write pumps and
// deterministic teardown.
type WebSocketServer struct {
	registry ports.Registry
	auth     ports.SessionVerifier
	metrics  ports.Metrics
	opts     Options
	logger   *zap.SugaredLogger

	limiters *connLimiterStore
}

func NewWebSocketServer(
	registry ports.Registry,
	auth ports.SessionVerifier,
	metrics ports.Metrics,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		registry: registry,
		auth:     auth,
		metrics:  metrics,
		opts:     opts,
		logger:   logger,
	}
	if opts.ConnectionsPerMinute > 0 {
		s.limiters = newConnLimiterStore(rate.Limit(opts.ConnectionsPerMinute/60.0), opts.ConnectionBurst)
	}
	return s
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes. Inbound frames carry only the handshake credential (on the
// upgrade request) and an optional logout control frame.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiters != nil && !s.limiters.allow(clientIP(r)) {
		http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	// Connecting -> Authenticated: verify the session credential before
	// anything touches the registry.
	user, err := s.auth.VerifySession(credentialFrom(r))
	if err != nil {
		s.metrics.RecordHandshakeRejected()
		s.logger.Infow("handshake rejected", "remote_addr", r.RemoteAddr)
		s.rejectHandshake(ws)
		return
	}

	conn := domain.NewConnection(
		domain.ConnectionID(utils.GenerateConnectionID()),
		user,
		s.opts.SendQueueSize,
		s.opts.PushTimeout,
	)

	// Authenticated -> Open: only a registered connection is eligible for
	// delivery and presence traffic.
	if err := s.registry.Register(conn); err != nil {
		s.logger.Errorw("registration failed",
			"connection_id", conn.ID(),
			"user_id", user,
			"error", err,
		)
		s.rejectHandshake(ws)
		return
	}
	if err := conn.MarkOpen(); err != nil {
		s.registry.Unregister(conn)
		ws.Close()
		return
	}

	s.logger.Infow("connection open",
		"connection_id", conn.ID(),
		"user_id", user,
		"remote_addr", r.RemoteAddr,
	)

	go s.writePump(ws, conn)
	s.readLoop(ws, conn)

	// Open -> Closed: whichever close signal won, teardown runs once.
	s.teardown(ws, conn)
}

// readLoop blocks on the next inbound frame until the transport errors out
// or the client asks to log out.
func (s *WebSocketServer) readLoop(ws *websocket.Conn, conn *domain.Connection) {
	readDeadline := func() time.Time {
		d := s.opts.PongTimeout
		if s.opts.IdleTimeout > 0 && s.opts.IdleTimeout < d {
			d = s.opts.IdleTimeout
		}
		return time.Now().Add(d)
	}

	ws.SetReadDeadline(readDeadline())
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(readDeadline())
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed",
					"connection_id", conn.ID(),
					"error", err,
				)
			}
			return
		}
		ws.SetReadDeadline(readDeadline())

		var control struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &control); err != nil {
			continue // no inbound control traffic is required, ignore noise
		}
		if control.Type == "logout" {
			s.logger.Infow("client logout", "connection_id", conn.ID())
			return
		}
	}
}

// writePump serializes all outbound traffic for one connection, which is
// what gives each connection FIFO delivery.
func (s *WebSocketServer) writePump(ws *websocket.Conn, conn *domain.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-conn.Outbound():
			ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Infow("write failed",
					"connection_id", conn.ID(),
					"error", err,
				)
				s.teardown(ws, conn)
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.teardown(ws, conn)
				return
			}

		case <-conn.Done():
			ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// teardown is safe to call from every close path: Close fires once and
// unregistration is idempotent.
func (s *WebSocketServer) teardown(ws *websocket.Conn, conn *domain.Connection) {
	conn.Close()
	ws.Close()
	s.registry.Unregister(conn)
}

// Shutdown force-closes every registered connection.
func (s *WebSocketServer) Shutdown() {
	for _, conn := range s.registry.Connections() {
		conn.Close()
		s.registry.Unregister(conn)
	}
}

func (s *WebSocketServer) rejectHandshake(ws *websocket.Conn) {
	frame := domain.ErrorFrame{
		Type:    domain.FrameTypeAuthRejected,
		Message: "authentication rejected",
	}
	ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	ws.WriteJSON(frame)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication rejected"),
		time.Now().Add(s.opts.WriteTimeout))
	ws.Close()
}

// credentialFrom extracts the session credential from the upgrade request.
func credentialFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// connLimiterStore keeps a rate limiter per client IP.
type connLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newConnLimiterStore(r rate.Limit, burst int) *connLimiterStore {
	if burst <= 0 {
		burst = 1
	}
	return &connLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (s *connLimiterStore) allow(key string) bool {
	s.mu.Lock()
	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
