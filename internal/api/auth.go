package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/logging"
	"smartreply-crm/pkg/models"
	"smartreply-crm/pkg/response"
)

type AuthHandler struct {
	auth *auth.Service
	log  *logging.Logger
}

func NewAuthHandler(svc *auth.Service, log *logging.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, log: log.Sub("auth")}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.log.Info().Str("user_id", res.User.ID).Str("role", string(res.User.Role)).Msg("login")

	c.JSON(http.StatusOK, models.LoginResponse{
		AccessToken:  res.Token,
		Token:        res.Token,
		Role:         string(res.User.Role),
		ID:           res.User.ID,
		UserID:       res.User.ID,
		Name:         res.User.Name,
		BusinessName: res.User.BusinessName,
		ExpiresAt:    res.ExpiresAt.Unix(),
	})
}

// Register creates an admin. The very first account can be registered
// anonymously; after that an admin session is required.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	ctx := c.Request.Context()
	open, err := h.auth.SetupOpen(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !open {
		sess, ok := auth.SessionFrom(c)
		if !ok {
			response.Error(c, apperr.Unauthorized("no token provided"))
			return
		}
		if err := sess.Require(auth.CapRegisterAdmins); err != nil {
			response.Error(c, err)
			return
		}
	}
	if req.DisplayName() == "" {
		response.Error(c, apperr.Validation("name is required"))
		return
	}

	u, err := h.auth.Register(ctx, auth.RegisterInput{
		Name:     req.DisplayName(),
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.log.Info().Str("user_id", u.ID).Bool("initial_setup", open).Msg("admin registered")
	c.JSON(http.StatusCreated, gin.H{"message": "Admin registered", "user": u})
}

func (h *AuthHandler) GhostLogin(c *gin.Context) {
	sess := auth.MustSession(c)
	res, err := h.auth.GhostLogin(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.log.Warn().Str("admin_id", sess.UserID).Str("client_id", res.User.ID).Msg("ghost login issued")
	c.JSON(http.StatusOK, models.GhostLoginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt.Unix()})
}

// Me returns the resolved session.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.MustSession(c))
}
