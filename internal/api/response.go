package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"docRender/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }
func TooManyRequests(c *gin.Context, msg string) {
	Error(c, http.StatusTooManyRequests, msg)
}

// errorResponse 带上错误码，便于前端区分同一 HTTP 状态下的不同原因。
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// RespondError 把流水线错误映射为 HTTP 状态码；未归类的错误记录日志并返回 500。
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, errcode.ErrInvalidReference):
		status, msg = http.StatusBadRequest, "invalid document reference"
	case errors.Is(err, errcode.ErrConversion):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, errcode.ErrDocumentNotFound):
		status, msg = http.StatusNotFound, "document not found"
	case errors.Is(err, errcode.ErrNeverRendered):
		status, msg = http.StatusNotFound, "document has not been rendered"
	case errors.Is(err, errcode.ErrPageNotFound):
		status, msg = http.StatusNotFound, "page not found"
	case errors.Is(err, errcode.ErrConflict):
		status, msg = http.StatusConflict, "render already in progress"
	default:
		logger.Error("request failed", slog.Any("error", err))
	}
	c.JSON(status, errorResponse{Error: msg, Code: errcode.Code(err)})
}
