package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"docRender/internal/api/middleware"
	"docRender/internal/metrics"
)

// NewRouter 构建带公共中间件的 Gin 引擎：恢复、Correlation ID、访问日志与指标。
func NewRouter(logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger, "/health", "/metrics"),
		metrics.GinMiddleware(),
	)
	return router
}
