package http

import (
	"net/http"
	"time"

	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/ports"
	"chatrelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

// NotifyHandler exposes the ingress surface used by the REST layer after a
// successful storage write, plus internal diagnostics. The relay is only
// ever notified about messages that are already durable; it never blocks a
// write on delivery.
type NotifyHandler struct {
	router   ports.DeliveryRouter
	registry ports.Registry
}

func NewNotifyHandler(router ports.DeliveryRouter, registry ports.Registry) *NotifyHandler {
	return &NotifyHandler{
		router:   router,
		registry: registry,
	}
}

func (h *NotifyHandler) SetupRoutes(router *gin.Engine, internalAuth gin.HandlerFunc) {
	internal := router.Group("/internal", internalAuth)
	{
		internal.POST("/messages/persisted", h.NotifyMessagePersisted)
		internal.GET("/presence", h.GetPresence)
	}
}

type persistedMessageRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	SenderID    string `json:"sender_id" binding:"required"`
	RecipientID string `json:"recipient_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"`

	Text     string `json:"text"`
	ImageRef string `json:"image_ref"`
	AudioRef string `json:"audio_ref"`

	ReplyTo *struct {
		MessageID  string `json:"message_id" binding:"required"`
		QuotedText string `json:"quoted_text"`
	} `json:"reply_to"`

	OriginConnectionID string    `json:"origin_connection_id"`
	PersistedAt        time.Time `json:"persisted_at"`
}

// NotifyMessagePersisted routes one already-durable message event to the
// recipient's and sender's open connections. Responds 202 either way: an
// offline recipient is an expected outcome, not a failure.
func (h *NotifyHandler) NotifyMessagePersisted(c *gin.Context) {
	var req persistedMessageRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateMessageID(req.MessageID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateUserID(req.SenderID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateUserID(req.RecipientID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePayloadKind(req.Kind); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := domain.OutboundMessageEvent{
		MessageID:          domain.MessageID(req.MessageID),
		SenderID:           domain.UserID(req.SenderID),
		RecipientID:        domain.UserID(req.RecipientID),
		Kind:               domain.PayloadKind(req.Kind),
		Text:               req.Text,
		ImageRef:           req.ImageRef,
		AudioRef:           req.AudioRef,
		OriginConnectionID: domain.ConnectionID(req.OriginConnectionID),
		PersistedAt:        req.PersistedAt,
	}
	if event.PersistedAt.IsZero() {
		event.PersistedAt = time.Now()
	}
	if req.ReplyTo != nil {
		event.ReplyTo = &domain.ReplyRef{
			MessageID:  domain.MessageID(req.ReplyTo.MessageID),
			QuotedText: req.ReplyTo.QuotedText,
		}
	}

	result := h.router.Route(c.Request.Context(), event)

	c.JSON(http.StatusAccepted, gin.H{
		"status":    result.Status,
		"delivered": result.Delivered,
		"echoed":    result.Echoed,
	})
}

// GetPresence dumps the online-user set for internal diagnostics. Clients
// get presence as push traffic, never through this endpoint.
func (h *NotifyHandler) GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online": h.registry.OnlineUsers(),
	})
}

// HealthHandler reports liveness and the current connection count.
type HealthHandler struct {
	registry ports.Registry
}

func NewHealthHandler(registry ports.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": len(h.registry.Connections()),
	})
}
