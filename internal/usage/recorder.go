package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"defiseek/pkg/logger"
)

// publishTimeout 限制入队等待时间，避免拖慢对话路径。
const publishTimeout = 2 * time.Second

// Recorder 负责把用量事件写入存储并异步入队。
// Record 只记日志不返回错误：用量统计永远不能影响对话主链路。
type Recorder struct {
	store    Store
	producer Producer
}

// NewRecorder 创建事件记录器。producer 可为 nil，此时事件只落库不入队。
func NewRecorder(store Store, producer Producer) *Recorder {
	return &Recorder{store: store, producer: producer}
}

// Record 保存事件并投递其 ID。任何失败都被吞掉并记入日志。
func (r *Recorder) Record(ctx context.Context, e *Event) {
	if r == nil || r.store == nil || e == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if err := r.store.SaveEvent(ctx, e); err != nil {
		logger.L().Warn("用量事件落库失败", "event", e.ID, "kind", e.Kind, "error", err)
		return
	}
	if r.producer == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.producer.Publish(publishCtx, e.ID); err != nil {
		logger.L().Warn("用量事件入队失败", "event", e.ID, "kind", e.Kind, "error", err)
	}
}
