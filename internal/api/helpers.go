package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/syncbook/internal/engine"
)

// CodeInvalidRequest marks a body or query that could not be decoded.
const CodeInvalidRequest = "INVALID_REQUEST"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	code, ok := engine.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case engine.ErrCodeFolderNotFound, engine.ErrCodeRecordNotFound, engine.ErrCodePipelineNotFound:
		return http.StatusNotFound
	case engine.ErrCodeFolderLocked, engine.ErrCodePipelineBusy, engine.ErrCodeFolderCycle:
		return http.StatusConflict
	case engine.ErrCodeInvalidMapping, engine.ErrCodeReservedField:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeInvalidScope:
		return http.StatusBadRequest
	case engine.ErrCodeStopped:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := StatusOf(err)
	resp := ErrorResponse{Code: "INTERNAL", Message: err.Error()}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		resp.Code = string(re.Code)
		resp.Details = re.Details
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: CodeInvalidRequest, Message: err.Error()})
}

// bindJSON decodes the body into obj. On failure it responds 400 and
// returns false.
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

// handle runs action and writes its result with status, or the error.
func handle(c *gin.Context, status int, action func() (any, error)) {
	result, err := action()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, result)
}

// bindOptionalJSON is bindJSON for requests whose body may be empty.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, obj)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
