package api

import (
	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/logger"
)

type ErrorResponse struct {
	Error   string         `json:"error" example:"something went wrong"`
	Code    string         `json:"code,omitempty" example:"CAPACITY_CONFLICT"`
	Details map[string]any `json:"details,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// RespondError writes err as JSON using the status of its kind. Internal
// errors are logged and their message is not exposed.
func RespondError(c *gin.Context, err error) {
	appErr := apperr.As(err)
	status := appErr.StatusCode()

	resp := ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Kind),
		Details: appErr.Details,
	}
	if status >= 500 {
		logger.Error("request failed",
			"path", c.FullPath(),
			"kind", appErr.Kind,
			"error", err,
		)
		if appErr.Kind == apperr.KindInternal {
			resp.Error = "internal server error"
			resp.Details = nil
		}
	}
	c.AbortWithStatusJSON(status, resp)
}
