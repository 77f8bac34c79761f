package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/logger"
)

// HandleError converts err into the standard {code, message, trace_id}
// response body and matching HTTP status, logging unrecognized errors at
// error level so an apperror gap is never silently swallowed.
func HandleError(c *gin.Context, err error) {
	traceID := logger.TraceIDFromContext(c.Request.Context())
	status, body := apperror.ToResponse(err, traceID)

	if body.Code == apperror.CodeInternal {
		logger.FromContext(c.Request.Context()).Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled internal error")
	}

	c.JSON(status, body)
}
