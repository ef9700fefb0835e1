package services

import (
	"context"
	"encoding/json"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"

	"go.uber.org/zap"
)

// PresencePublisher broadcasts the online-user set to every registered
// connection whenever registry membership changes. Rapid churn (reconnect
// storms) is coalesced: at most one broadcast per debounce window, and the
// trailing broadcast always carries a snapshot taken at send time, so the
// settled state is never stale.
type PresencePublisher struct {
	registry ports.Registry
	mirror   ports.PresenceMirror // optional
	metrics  ports.Metrics
	logger   *zap.SugaredLogger

	window time.Duration

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewPresencePublisher(
	registry ports.Registry,
	mirror ports.PresenceMirror,
	metrics ports.Metrics,
	window time.Duration,
	logger *zap.SugaredLogger,
) *PresencePublisher {
	return &PresencePublisher{
		registry: registry,
		mirror:   mirror,
		metrics:  metrics,
		logger:   logger,
		window:   window,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the broadcast loop. Stop with Stop.
func (p *PresencePublisher) Start() {
	go p.run()
}

func (p *PresencePublisher) Stop() {
	close(p.stop)
	<-p.done
}

// PresenceChanged implements ports.PresenceListener. It never blocks the
// registry: the kick channel holds one pending signal and further signals
// within the same window collapse into it.
func (p *PresencePublisher) PresenceChanged(domain.PresenceSnapshot) {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *PresencePublisher) run() {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			return
		case <-p.kick:
		}

		if p.window > 0 {
			timer := time.NewTimer(p.window)
		settle:
			for {
				select {
				case <-p.stop:
					timer.Stop()
					return
				case <-p.kick:
					// churn continues, keep absorbing until the window ends
				case <-timer.C:
					break settle
				}
			}
		}

		p.Publish(p.registry.Snapshot())
	}
}

// Publish pushes the snapshot to every registered connection, including the
// one whose state change triggered it. A failed push never aborts the
// broadcast; the failing connection is handed back for unregistration.
func (p *PresencePublisher) Publish(snap domain.PresenceSnapshot) {
	frame, err := json.Marshal(domain.PresenceFrame{
		Type:   domain.FrameTypePresence,
		Online: snap.Online,
	})
	if err != nil {
		p.logger.Errorw("failed to encode presence frame", "error", err)
		return
	}

	for _, conn := range p.registry.Connections() {
		if err := conn.Push(frame); err != nil {
			p.logger.Infow("presence push failed, dropping connection",
				"connection_id", conn.ID(),
				"user_id", conn.User(),
				"error", err,
			)
			p.metrics.RecordPushFailure()
			conn.Close()
			p.registry.Unregister(conn)
		}
	}

	p.metrics.RecordPresenceBroadcast()

	if p.mirror != nil {
		if err := p.mirror.Store(context.Background(), snap); err != nil {
			p.logger.Warnw("presence mirror write failed", "error", err)
		}
	}
}
