package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/yungbote/repairjourney-backend/internal/pkg/errors"
	"github.com/yungbote/repairjourney-backend/internal/platform/apierr"
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

// RespondFromError maps sentinel and typed errors onto a status; anything
// unrecognised becomes a 500 carrying fallbackCode.
func RespondFromError(c *gin.Context, err error, fallbackCode string) {
	ae := Classify(err, fallbackCode)
	RespondError(c, ae.Status, ae.Code, ae.Err)
}

func Classify(err error, fallbackCode string) *apierr.Error {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae) && ae != nil:
		return ae
	case errors.Is(err, pkgerrors.ErrNotFound):
		return apierr.NotFound("not_found", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return apierr.BadRequest("invalid_argument", err)
	default:
		return apierr.From(err, fallbackCode)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
