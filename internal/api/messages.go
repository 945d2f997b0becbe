package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/inbox"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

type MessageHandler struct {
	inbox *inbox.Service
}

func NewMessageHandler(svc *inbox.Service) *MessageHandler {
	return &MessageHandler{inbox: svc}
}

// GetMessages returns one contact's conversation and resets its unread count.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	msgs, err := h.inbox.ListMessages(c.Request.Context(), auth.MustSession(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *MessageHandler) GetConversations(c *gin.Context) {
	convs, err := h.inbox.Conversations(c.Request.Context(), auth.MustSession(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *MessageHandler) GetMessagesByPhone(c *gin.Context) {
	msgs, err := h.inbox.MessagesByPhone(c.Request.Context(), auth.MustSession(c), c.Param("id"), c.Param("phone"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	msg, err := h.inbox.SendMessage(c.Request.Context(), auth.MustSession(c), inbox.SendInput{
		ContactID: req.ContactID,
		To:        req.To,
		ClientID:  req.ClientID,
		Text:      req.Text,
		Type:      req.Type,
		MediaURL:  req.MediaURL,
		Caption:   req.Caption,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
