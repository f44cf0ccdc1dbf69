package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeDocumentRender = "document:render"
	QueueRender        = "render"
)

// RenderTimeout 是单个渲染任务在 worker 中的最长执行时间。
const RenderTimeout = 20 * time.Minute

// DocumentRenderPayload 描述执行一次已加锁渲染所需的最小信息。
type DocumentRenderPayload struct {
	JobID         string `json:"job_id"`
	DocumentID    uint   `json:"document_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewDocumentRenderTask 构造渲染任务。任务不自动重试，失败即为终态。
func NewDocumentRenderTask(payload DocumentRenderPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("render task requires a job id")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeDocumentRender, data,
		asynq.MaxRetry(0),
		asynq.Queue(QueueRender),
		asynq.Timeout(RenderTimeout),
		asynq.TaskID(payload.JobID),
	), nil
}

// ParseDocumentRenderPayload 解析任务负载。
func ParseDocumentRenderPayload(t *asynq.Task) (DocumentRenderPayload, error) {
	var payload DocumentRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return DocumentRenderPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	if payload.JobID == "" {
		return DocumentRenderPayload{}, fmt.Errorf("render payload missing job id")
	}
	return payload, nil
}
