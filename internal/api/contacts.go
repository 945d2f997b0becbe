package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/crm"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

type ContactHandler struct {
	crm *crm.Service
}

func NewContactHandler(svc *crm.Service) *ContactHandler {
	return &ContactHandler{crm: svc}
}

// GetContacts lists leads. page and limit are optional; the unpaged total
// is sent in X-Total-Count.
func (h *ContactHandler) GetContacts(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	contacts, total, err := h.crm.ListContacts(c.Request.Context(), auth.MustSession(c), crm.ListFilter{
		ClientID: c.Query("clientId"),
		AgentID:  c.Query("agentId"),
		Status:   c.Query("status"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, contacts)
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req models.ImportContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	contact, created, err := h.crm.ImportContact(c.Request.Context(), auth.MustSession(c), req.ClientID, req.Phone, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, contact)
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req models.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	contact, err := h.crm.UpdateContact(c.Request.Context(), auth.MustSession(c), c.Param("id"), crm.ContactPatch{
		Name:         req.Name,
		Status:       req.Status,
		Priority:     req.Priority,
		Remark:       req.Remark,
		CallStatus:   req.CallStatus,
		CallMethod:   req.CallMethod,
		CallAttempts: req.CallAttempts,
		AssignedTo:   req.AssignedTo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) AssignChats(c *gin.Context) {
	var req models.AssignChatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	n, err := h.crm.AssignChats(c.Request.Context(), auth.MustSession(c), req.ContactIDs, req.AgentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AssignChatsResponse{Message: "Chats assigned", Assigned: n})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	data, err := h.crm.ExportCSV(c.Request.Context(), auth.MustSession(c), c.Query("clientId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
