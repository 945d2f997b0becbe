package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/broadcast"
	"smartreply-crm/internal/templates"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

// BroadcastHandler serves campaigns and the message templates they use.
type BroadcastHandler struct {
	campaigns *broadcast.Service
	templates *templates.Service
}

func NewBroadcastHandler(campaigns *broadcast.Service, tmpl *templates.Service) *BroadcastHandler {
	return &BroadcastHandler{campaigns: campaigns, templates: tmpl}
}

func (h *BroadcastHandler) GetCampaigns(c *gin.Context) {
	list, err := h.campaigns.ListCampaigns(c.Request.Context(), auth.MustSession(c), c.Query("clientId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateCampaign only queues the campaign; the scheduler sends it.
func (h *BroadcastHandler) CreateCampaign(c *gin.Context) {
	var req models.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	campaign, err := h.campaigns.CreateCampaign(c.Request.Context(), auth.MustSession(c), broadcast.CampaignInput{
		ClientID:      req.ClientID,
		Name:          req.Name,
		Recipients:    req.Recipients,
		MessageType:   req.MessageType,
		Message:       req.Message,
		MediaURL:      req.MediaURL,
		Language:      req.Language,
		ScheduledTime: req.ScheduledTime,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// GetTemplates returns the tenant's templates, refreshed from Meta when reachable.
func (h *BroadcastHandler) GetTemplates(c *gin.Context) {
	list, err := h.templates.List(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *BroadcastHandler) CreateTemplate(c *gin.Context) {
	var req models.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	view, err := h.templates.Create(c.Request.Context(), auth.MustSession(c), templates.CreateInput{
		Name:       req.Name,
		Category:   req.Category,
		Language:   req.Language,
		HeaderType: req.HeaderType,
		HeaderText: req.HeaderText,
		BodyText:   req.BodyText,
		FooterText: req.FooterText,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}
