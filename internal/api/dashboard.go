package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/analytics"
	"smartreply-crm/internal/auth"
	"smartreply-crm/pkg/response"
)

// DashboardHandler serves the numbers behind the admin and client dashboards.
type DashboardHandler struct {
	analytics *analytics.Service
}

func NewDashboardHandler(svc *analytics.Service) *DashboardHandler {
	return &DashboardHandler{analytics: svc}
}

func (h *DashboardHandler) Overview(c *gin.Context) {
	out, err := h.analytics.Overview(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *DashboardHandler) Logs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.analytics.Logs(c.Request.Context(), auth.MustSession(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *DashboardHandler) UserStats(c *gin.Context) {
	stats, err := h.analytics.UserStats(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *DashboardHandler) AgentPerformance(c *gin.Context) {
	perf, err := h.analytics.AgentPerformance(c.Request.Context(), auth.MustSession(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}
