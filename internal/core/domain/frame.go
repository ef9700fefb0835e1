package domain

// Outbound wire frames. Inbound traffic carries only the handshake
// credential (on the upgrade request) and an optional logout control frame;
// everything the server says goes through one of these.

type FrameType string

const (
	FrameTypePresence     FrameType = "presence"
	FrameTypeMessage      FrameType = "message"
	FrameTypeAuthRejected FrameType = "auth_rejected"
)

type PresenceFrame struct {
	Type   FrameType `json:"type"`
	Online []UserID  `json:"online"`
}

type MessageFrame struct {
	Type  FrameType            `json:"type"`
	Event OutboundMessageEvent `json:"event"`
}

type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}
