package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"

	"docRender/internal/tasks"
)

// AsynqDispatcher 把任务投递到 asynq 队列，由 worker 执行。
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, req Dispatch) error {
	task, err := tasks.NewDocumentRenderTask(tasks.DocumentRenderPayload{
		JobID:         req.JobID,
		DocumentID:    req.DocumentID,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue render task: %w", err)
	}
	return nil
}

// InlineDispatcher 在当前进程的 goroutine 中执行任务，用于测试与单机部署。
type InlineDispatcher struct {
	coordinator *Coordinator
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewInlineDispatcher(coordinator *Coordinator, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{coordinator: coordinator, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, req Dispatch) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.coordinator.Execute(context.WithoutCancel(ctx), req.JobID, req.CorrelationID); err != nil {
			d.logger.Warn("inline render finished with error",
				slog.String("job_id", req.JobID),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Wait 阻塞直到所有已派发任务结束。
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
