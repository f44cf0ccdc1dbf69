package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"docRender/internal/tasks"
)

// JobExecutor 执行一个已加锁的渲染任务。
type JobExecutor interface {
	Execute(ctx context.Context, jobID, correlationID string) error
}

// RenderTaskHandler 负责消费文档渲染任务。
type RenderTaskHandler struct {
	executor JobExecutor
	logger   *slog.Logger
}

// NewRenderTaskHandler 创建任务处理器。
func NewRenderTaskHandler(executor JobExecutor, logger *slog.Logger) *RenderTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderTaskHandler{executor: executor, logger: logger}
}

// ProcessTask 实现 asynq.Handler。任务失败已由协调器落库为终态，这里只阻止重试。
func (h *RenderTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseDocumentRenderPayload(t)
	if err != nil {
		h.logger.Error("invalid render task payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("job_id", payload.JobID),
		slog.Uint64("document_id", uint64(payload.DocumentID)),
		slog.String("correlation_id", payload.CorrelationID),
	)
	if id, ok := asynq.GetTaskID(ctx); ok && id != payload.JobID {
		log.Warn("task id does not match job id", slog.String("task_id", id))
	}

	log.Info("render task started")
	if err := h.executor.Execute(ctx, payload.JobID, payload.CorrelationID); err != nil {
		log.Error("render task failed", slog.Any("error", err))
		return fmt.Errorf("render job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	log.Info("render task finished")
	return nil
}
