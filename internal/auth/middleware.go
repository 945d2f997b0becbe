package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/pkg/response"
)

const (
	// TokenHeader is the non-standard header the dashboard sends.
	TokenHeader = "token"
	sessionKey  = "session"
)

// Authenticator resolves raw tokens into sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*Session, error)
}

// TokenFromRequest reads `token: Bearer <jwt>`, then `Authorization: Bearer <jwt>`,
// then the `token` query parameter (websocket upgrades cannot set headers).
func TokenFromRequest(c *gin.Context) string {
	if v := c.GetHeader(TokenHeader); v != "" {
		return BearerToken(v)
	}
	if v := c.GetHeader("Authorization"); v != "" {
		return BearerToken(v)
	}
	return c.Query("token")
}

// Middleware resolves the session once and stores it on the gin context.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := a.Authenticate(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// OptionalMiddleware stores a session when a valid token is present and
// carries on anonymously otherwise.
func OptionalMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := TokenFromRequest(c); raw != "" {
			if sess, err := a.Authenticate(c.Request.Context(), raw); err == nil {
				c.Set(sessionKey, sess)
			}
		}
		c.Next()
	}
}

// RequireCapability answers 403 unless the session has the capability.
func RequireCapability(want Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := SessionFrom(c)
		if !ok {
			response.Error(c, apperr.Unauthorized("no token provided"))
			return
		}
		if err := sess.Require(want); err != nil {
			response.Error(c, err)
			return
		}
		c.Next()
	}
}

func SessionFrom(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*Session)
	return sess, ok && sess != nil
}

// MustSession is for handlers mounted behind Middleware.
func MustSession(c *gin.Context) *Session {
	sess, ok := SessionFrom(c)
	if !ok {
		panic("auth: handler mounted without session middleware")
	}
	return sess
}
