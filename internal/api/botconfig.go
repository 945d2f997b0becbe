package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/botconfig"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

type BotConfigHandler struct {
	configs *botconfig.Service
}

func NewBotConfigHandler(svc *botconfig.Service) *BotConfigHandler {
	return &BotConfigHandler{configs: svc}
}

// GetMyConfig returns the caller's own flow, or ?ownerId= for admins.
func (h *BotConfigHandler) GetMyConfig(c *gin.Context) {
	h.get(c, c.Query("ownerId"))
}

func (h *BotConfigHandler) GetConfig(c *gin.Context) {
	h.get(c, c.Param("ownerId"))
}

func (h *BotConfigHandler) get(c *gin.Context, ownerID string) {
	cfg, err := h.configs.Get(c.Request.Context(), auth.MustSession(c), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *BotConfigHandler) SaveConfig(c *gin.Context) {
	var req models.BotConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	replies := make([]botconfig.ReplyInput, 0, len(req.Replies))
	for _, r := range req.Replies {
		replies = append(replies, botconfig.ReplyInput{
			Text:      r.Text,
			MediaURL:  r.Link(),
			MediaType: r.MediaType,
			FileName:  r.FileName,
		})
	}

	cfg, err := h.configs.Save(c.Request.Context(), auth.MustSession(c), botconfig.SaveInput{
		OwnerID:  req.Owner(),
		Replies:  replies,
		IsActive: req.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
