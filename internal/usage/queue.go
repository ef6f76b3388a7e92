package usage

import (
	"context"

	"defiseek/pkg/logger"
)

// Handler 处理来自消息队列的事件 ID。
type Handler func(ctx context.Context, eventID string) error

// deliver 执行一次事件处理。用量事件允许丢弃：
// 处理失败只记录日志，任何后端都不重新投递。
func deliver(ctx context.Context, handler Handler, eventID string) {
	if err := handler(ctx, eventID); err != nil {
		logger.L().Warn("用量事件处理失败", "event_id", eventID, "error", err)
	}
}

// Producer 负责向队列投递事件。
type Producer interface {
	Publish(ctx context.Context, eventID string) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
