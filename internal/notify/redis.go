package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"docRender/internal/render"
)

const channelPrefix = "render_status:"

// ChannelPattern 匹配所有文档的状态频道。
const ChannelPattern = channelPrefix + "*"

// Channel 返回某个文档的状态频道。
func Channel(documentID uint) string {
	return fmt.Sprintf("%s%d", channelPrefix, documentID)
}

// RedisNotifier 把状态变化发布到 Redis；发布失败只记录日志，不影响渲染结果。
type RedisNotifier struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisNotifier(client redis.UniversalClient, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) Notify(ctx context.Context, event render.StatusEvent) {
	if err := n.Publish(context.WithoutCancel(ctx), event); err != nil {
		n.logger.Error("publish render status failed",
			slog.Uint64("document_id", uint64(event.DocumentID)),
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}
}

// Publish 序列化并发布事件。
func (n *RedisNotifier) Publish(ctx context.Context, event render.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	channel := Channel(event.DocumentID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	return nil
}
