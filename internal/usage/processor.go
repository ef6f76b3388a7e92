package usage

import (
	"context"
	"errors"
	"sync"

	xerrors "defiseek/internal/errors"
	"defiseek/pkg/logger"
)

// Processor 消费队列中的事件 ID 并推进事件状态。
type Processor struct {
	store    Store
	consumer Consumer
	workers  int

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewProcessor 创建事件处理器。
func NewProcessor(store Store, consumer Consumer, workers int) *Processor {
	if workers <= 0 {
		workers = 2
	}
	return &Processor{store: store, consumer: consumer, workers: workers}
}

// Start 启动后台消费。重复调用只生效一次。
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})

	go func() {
		defer close(p.stopped)
		err := p.consumer.Consume(runCtx, p.workers, p.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("用量事件消费退出", "error", err)
		}
	}()
}

// Stop 停止消费并等待工作协程退出。
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	stopped := p.stopped
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

// handle 将事件标记为已处理。未知 ID 直接丢弃，不触发重投。
func (p *Processor) handle(ctx context.Context, eventID string) error {
	if _, err := p.store.GetEvent(ctx, eventID); err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			logger.L().Warn("队列中的用量事件不存在", "event", eventID)
			return nil
		}
		return err
	}
	if err := p.store.MarkProcessed(ctx, eventID); err != nil {
		return err
	}
	logger.L().Debug("用量事件处理完成", "event", eventID)
	return nil
}
