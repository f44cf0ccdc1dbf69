package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck 检查一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// StaleReaper 回收超时的渲染任务。
type StaleReaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// OpsHandler 提供健康检查与运维接口。
type OpsHandler struct {
	checks map[string]HealthCheck
	reaper StaleReaper
	logger *slog.Logger
}

func NewOpsHandler(checks map[string]HealthCheck, reaper StaleReaper, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{checks: checks, reaper: reaper, logger: logger}
}

// Health 逐个检查依赖，任一失败返回 503。
func (h *OpsHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			loggerFromContext(c, h.logger).Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": results})
}

// ReapStale 立即执行一次超时任务回收。
func (h *OpsHandler) ReapStale(c *gin.Context) {
	reaped, err := h.reaper.ReapStale(c.Request.Context())
	if err != nil {
		loggerFromContext(c, h.logger).Error("manual reap failed", slog.Any("error", err))
		Internal(c, "reap failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reaped": reaped})
}
