package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/accounts"
	"smartreply-crm/internal/auth"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

// AccountHandler serves client management for admins and team management
// for client businesses.
type AccountHandler struct {
	accounts *accounts.Service
}

func NewAccountHandler(svc *accounts.Service) *AccountHandler {
	return &AccountHandler{accounts: svc}
}

func (h *AccountHandler) ListUsers(c *gin.Context) {
	users, err := h.accounts.ListUsers(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AccountHandler) ListClients(c *gin.Context) {
	clients, err := h.accounts.ListClients(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, clients)
}

func (h *AccountHandler) CreateClient(c *gin.Context) {
	var req models.ClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	u, err := h.accounts.CreateClient(c.Request.Context(), auth.MustSession(c), clientInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *AccountHandler) UpdateClient(c *gin.Context) {
	var req models.ClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	u, err := h.accounts.UpdateClient(c.Request.Context(), auth.MustSession(c), c.Param("id"), clientInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AccountHandler) DeleteClient(c *gin.Context) {
	if err := h.accounts.DeleteClient(c.Request.Context(), auth.MustSession(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Client deleted")
}

func (h *AccountHandler) DeleteUser(c *gin.Context) {
	if err := h.accounts.DeleteUser(c.Request.Context(), auth.MustSession(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "User deleted")
}

func (h *AccountHandler) ListAgents(c *gin.Context) {
	agents, err := h.accounts.ListAgents(c.Request.Context(), auth.MustSession(c), c.Query("clientId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *AccountHandler) AddAgent(c *gin.Context) {
	var req models.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	u, err := h.accounts.AddAgent(c.Request.Context(), auth.MustSession(c), agentInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *AccountHandler) UpdateAgent(c *gin.Context) {
	var req models.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	u, err := h.accounts.UpdateAgent(c.Request.Context(), auth.MustSession(c), c.Param("id"), agentInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AccountHandler) DeleteAgent(c *gin.Context) {
	if err := h.accounts.DeleteAgent(c.Request.Context(), auth.MustSession(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Agent removed")
}

func clientInput(req models.ClientRequest) accounts.ClientInput {
	in := accounts.ClientInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		BusinessName: req.BusinessName,
		Phone:        req.Phone,
		Status:       req.Status,
	}
	if wc := req.WhatsAppConfig; wc != nil {
		in.WhatsAppConfig = &accounts.WhatsAppConfigInput{
			PhoneNumberID:     wc.PhoneNumberID,
			AccessToken:       wc.AccessToken,
			BusinessAccountID: wc.BusinessAccountID,
		}
	}
	return in
}

func agentInput(req models.AgentRequest) accounts.AgentInput {
	return accounts.AgentInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	}
}
