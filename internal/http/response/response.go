package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docfold/docgraph-backend/internal/platform/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAppError maps the error's kind to an HTTP status and uses the kind
// as the wire code.
func RespondAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	RespondError(c, statusForKind(kind), string(kind), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
