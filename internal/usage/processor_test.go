package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRecorderAndProcessorRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	t.Cleanup(func() { _ = queue.Close() })

	recorder := NewRecorder(store, queue)
	processor := NewProcessor(store, queue, 2)
	processor.Start(context.Background())
	t.Cleanup(processor.Stop)

	event := &Event{
		Kind:      KindChatCompleted,
		ChatID:    "chat-1",
		UserID:    "user-1",
		QueryType: "risk_analysis",
		AgentIDs:  []string{"walletRiskAgent"},
		LatencyMs: 1200,
	}
	recorder.Record(context.Background(), event)
	if event.ID == "" {
		t.Fatal("expected event id to be assigned")
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.GetEvent(context.Background(), event.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status == StatusProcessed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("event never processed: %+v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 1 || stats.Processed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByQueryType["risk_analysis"] != 1 {
		t.Fatalf("unexpected query type stats: %+v", stats.ByQueryType)
	}
}

func TestRecorderSwallowsQueueFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	_ = queue.Close()

	recorder := NewRecorder(store, queue)
	event := &Event{Kind: KindChatFailed}
	recorder.Record(context.Background(), event)

	// 入队失败不影响落库
	got, err := store.GetEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestProcessorDropsUnknownEvent(t *testing.T) {
	store := NewMemoryStore()
	p := NewProcessor(store, NewMemoryQueue(1), 1)
	if err := p.handle(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown event should be dropped, got %v", err)
	}
}

func TestFailedEventIsNotRedelivered(t *testing.T) {
	queue := NewMemoryQueue(4)
	t.Cleanup(func() { _ = queue.Close() })

	var mu sync.Mutex
	attempts := 0
	handler := func(context.Context, string) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("processing failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 1, handler)
	}()

	if err := queue.Publish(context.Background(), "evt-1"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event was never handled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// 等待可能的重投出现
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := attempts
	mu.Unlock()
	if n != 1 {
		t.Fatalf("failed event must not be redelivered: handled %d times", n)
	}

	cancel()
	<-done
}
