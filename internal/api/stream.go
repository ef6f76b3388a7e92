package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// StreamingSession 将合成回答以 SSE 形式增量推送给客户端，
// 并通过独立的 annotation 事件携带带外元数据（会话 ID、消息 ID、组件描述）。
type StreamingSession struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  sync.Once
	started bool
}

// NewStreamingSession 在响应写入器上打开一个 SSE 会话。
// 不支持 Flusher 的写入器会退化为无即时刷新的普通写入。
func NewStreamingSession(w http.ResponseWriter) *StreamingSession {
	flusher, _ := w.(http.Flusher)
	return &StreamingSession{w: w, flusher: flusher}
}

func (s *StreamingSession) writeHeader() {
	if s.started {
		return
	}
	s.started = true
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// WriteAnnotation 发送一条带外注解。会话 ID 注解必须在任何文本之前即可发送。
func (s *StreamingSession) WriteAnnotation(name string, payload any) error {
	body, err := json.Marshal(map[string]any{"type": name, "data": payload})
	if err != nil {
		return fmt.Errorf("序列化注解失败: %w", err)
	}
	return s.emit("annotation", body)
}

// WriteText 推送一段回答文本增量。
func (s *StreamingSession) WriteText(delta string) error {
	body, err := json.Marshal(map[string]string{"delta": delta})
	if err != nil {
		return fmt.Errorf("序列化文本增量失败: %w", err)
	}
	return s.emit("text", body)
}

// WriteError 向客户端通告生成失败。不泄露内部细节，只给出可展示的消息。
func (s *StreamingSession) WriteError(message string) error {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("序列化错误事件失败: %w", err)
	}
	return s.emit("error", body)
}

// Close 结束流。无论成功还是失败路径都必须调用，且保证只生效一次。
func (s *StreamingSession) Close() {
	s.closed.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.writeHeader()
		fmt.Fprint(s.w, "event: done\ndata: {}\n\n")
		if s.flusher != nil {
			s.flusher.Flush()
		}
	})
}

func (s *StreamingSession) emit(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHeader()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
