package usage

import "context"

// Store 定义用量事件的持久化接口。
type Store interface {
	// SaveEvent 保存新事件。
	SaveEvent(ctx context.Context, e *Event) error
	// GetEvent 按 ID 返回事件，未找到时返回 NOT_FOUND。
	GetEvent(ctx context.Context, id string) (*Event, error)
	// MarkProcessed 将事件标记为已处理。
	MarkProcessed(ctx context.Context, id string) error
	// Stats 返回聚合统计。
	Stats(ctx context.Context) (*Stats, error)
}
