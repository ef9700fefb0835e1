package services

import (
	"context"
	"encoding/json"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"
	"chatrelay/pkg/tracing"

	"go.uber.org/zap"
)

// DeliveryRouter pushes persisted message events to the recipient's open
// connections and echoes them to the sender's other devices. It is
// kind-agnostic: create, edit and delete all take the same path. Per-
// connection FIFO ordering comes from the write pump; the router itself
// pushes in deterministic registry order.
type DeliveryRouter struct {
	registry ports.Registry
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
}

func NewDeliveryRouter(registry ports.Registry, metrics ports.Metrics, logger *zap.SugaredLogger) *DeliveryRouter {
	return &DeliveryRouter{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Route never returns an error: push failures are resolved internally by
// forced disconnection, and an offline recipient is an expected outcome
// reported in the result. The message is already durable; the caller owes
// nothing beyond best effort.
func (r *DeliveryRouter) Route(ctx context.Context, event domain.OutboundMessageEvent) domain.RouteResult {
	ctx, span := tracing.TraceRoute(ctx,
		string(event.MessageID),
		string(event.SenderID),
		string(event.RecipientID),
	)
	defer span.End()

	frame, err := json.Marshal(domain.MessageFrame{
		Type:  domain.FrameTypeMessage,
		Event: event,
	})
	if err != nil {
		// Should not happen for a well-formed event; nothing to deliver.
		r.logger.Errorw("failed to encode message frame",
			"message_id", event.MessageID,
			"error", err,
		)
		tracing.RecordError(ctx, err)
		return domain.RouteResult{Status: domain.RouteRecipientOffline}
	}

	var result domain.RouteResult

	recipients := r.registry.ConnectionsFor(event.RecipientID)
	for _, conn := range recipients {
		if r.push(conn, frame) {
			result.Delivered++
			r.metrics.RecordFrameDelivered("recipient")
		} else {
			result.Failed++
		}
	}

	// Multi-device echo: the sender's other sessions reflect the message
	// without a round trip through storage. The originating device, when
	// known, already has it.
	for _, conn := range r.registry.ConnectionsFor(event.SenderID) {
		if conn.ID() == event.OriginConnectionID {
			continue
		}
		if r.push(conn, frame) {
			result.Echoed++
			r.metrics.RecordFrameDelivered("sender_echo")
		} else {
			result.Failed++
		}
	}

	if len(recipients) == 0 {
		result.Status = domain.RouteRecipientOffline
	} else {
		result.Status = domain.RouteDelivered
	}

	r.metrics.RecordEventRouted(string(result.Status))
	tracing.AddSpanAttributes(ctx,
		tracing.PayloadKindKey.String(string(event.Kind)),
		tracing.RouteStatusKey.String(string(result.Status)),
	)

	r.logger.Debugw("routed message event",
		"message_id", event.MessageID,
		"kind", event.Kind,
		"status", result.Status,
		"delivered", result.Delivered,
		"echoed", result.Echoed,
		"failed", result.Failed,
	)

	return result
}

// push attempts one delivery; a failure forces that connection out of the
// registry without affecting deliveries already made in the same call.
func (r *DeliveryRouter) push(conn *domain.Connection, frame []byte) bool {
	if err := conn.Push(frame); err != nil {
		r.logger.Infow("push failed, dropping connection",
			"connection_id", conn.ID(),
			"user_id", conn.User(),
			"error", err,
		)
		r.metrics.RecordPushFailure()
		conn.Close()
		r.registry.Unregister(conn)
		return false
	}
	return true
}
