package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/pkg/validator"
)

func newContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestError_MapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{apperr.NotFound("contact not found"), http.StatusNotFound, "contact not found"},
		{fmt.Errorf("assign: %w", apperr.Validation("agent does not belong to your team")), http.StatusUnprocessableEntity, "agent does not belong to your team"},
		{apperr.Forbidden("admins only"), http.StatusForbidden, "admins only"},
		{apperr.Unauthorized("invalid token"), http.StatusUnauthorized, "invalid token"},
		{apperr.Conflict("email already registered"), http.StatusConflict, "email already registered"},
		{apperr.Upstream(errors.New("timeout"), "Error fetching templates. Check WABA ID."), http.StatusBadGateway, "Error fetching templates. Check WABA ID."},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		c, rec := newContext("")
		Error(c, tc.err)

		assert.Equal(t, tc.code, rec.Code)
		assert.Equal(t, tc.msg, decode(t, rec).Message)
		assert.True(t, c.IsAborted())
	}
}

type sendBody struct {
	ContactID string `json:"contactId" binding:"required"`
}

func TestBindError_Validation(t *testing.T) {
	require.NoError(t, validator.Setup())
	c, rec := newContext(`{}`)

	var req sendBody
	err := c.ShouldBindJSON(&req)
	require.Error(t, err)
	BindError(c, err)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Validation failed", body.Message)
	assert.Contains(t, body.Errors, "contactId")
}

func TestBindError_MalformedJSON(t *testing.T) {
	c, rec := newContext(`{"contactId":`)

	var req sendBody
	err := c.ShouldBindJSON(&req)
	require.Error(t, err)
	BindError(c, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec).Message)
}
