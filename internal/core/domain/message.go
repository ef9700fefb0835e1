package domain

import "time"

type MessageID string

// PayloadKind distinguishes how the client reconciles its local view.
// The delivery path itself is kind-agnostic.
type PayloadKind string

const (
	KindNew     PayloadKind = "new"
	KindEdited  PayloadKind = "edited"
	KindDeleted PayloadKind = "deleted"
)

// ReplyRef points at the quoted message. Only the id and quoted text are
// carried; attachments of the quoted message are not copied forward.
type ReplyRef struct {
	MessageID  MessageID `json:"message_id"`
	QuotedText string    `json:"quoted_text,omitempty"`
}

// OutboundMessageEvent is the delivery-layer view of a message that the
// storage collaborator has already made durable. Image and audio fields are
// references to stored media, never the bytes themselves.
type OutboundMessageEvent struct {
	MessageID   MessageID   `json:"message_id"`
	SenderID    UserID      `json:"sender_id"`
	RecipientID UserID      `json:"recipient_id"`
	Kind        PayloadKind `json:"kind"`

	Text     string    `json:"text,omitempty"`
	ImageRef string    `json:"image_ref,omitempty"`
	AudioRef string    `json:"audio_ref,omitempty"`
	ReplyTo  *ReplyRef `json:"reply_to,omitempty"`

	// OriginConnectionID identifies the sender's device that produced the
	// message, if the REST layer knows it. That connection is skipped during
	// the multi-device echo.
	OriginConnectionID ConnectionID `json:"origin_connection_id,omitempty"`

	PersistedAt time.Time `json:"persisted_at"`
}

// RouteStatus reports the outcome of routing a persisted message.
type RouteStatus string

const (
	// RouteDelivered means at least one recipient connection got a push.
	RouteDelivered RouteStatus = "delivered"
	// RouteRecipientOffline is not an error: the recipient fetches the
	// message from persisted history on their next connect.
	RouteRecipientOffline RouteStatus = "recipient_offline"
)

type RouteResult struct {
	Status    RouteStatus
	Delivered int
	Echoed    int
	Failed    int
}
