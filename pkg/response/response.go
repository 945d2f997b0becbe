package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/pkg/validator"
)

// ErrorResponse is the error body the dashboard reads (`data.message`).
type ErrorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status mapped from its kind and aborts the chain.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(StatusFor(kind), ErrorResponse{Message: apperr.Message(err)})
}

// BindError reports a failed ShouldBind*: 422 with field details for rule
// violations, 400 for anything else (malformed JSON, wrong types).
func BindError(c *gin.Context, err error) {
	if details, ok := validator.Translate(err); ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Validation failed",
			Errors:  details,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
}

func Message(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"message": message})
}
