package api

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamingSessionOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	session := NewStreamingSession(rec)

	if err := session.WriteAnnotation("chat_id", "chat-1"); err != nil {
		t.Fatalf("写注解失败: %v", err)
	}
	if err := session.WriteText("你好"); err != nil {
		t.Fatalf("写文本失败: %v", err)
	}
	session.Close()

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type 不符: %q", got)
	}
	body := rec.Body.String()
	annotationIdx := strings.Index(body, `"type":"chat_id"`)
	textIdx := strings.Index(body, `"delta":"你好"`)
	if annotationIdx == -1 || textIdx == -1 || annotationIdx > textIdx {
		t.Fatalf("注解必须先于文本: %s", body)
	}
}

func TestStreamingSessionCloseIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	session := NewStreamingSession(rec)

	session.Close()
	session.Close()
	session.Close()

	if got := strings.Count(rec.Body.String(), "event: done"); got != 1 {
		t.Fatalf("done 事件应恰好出现一次: got %d", got)
	}
}

func TestStreamingSessionErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	session := NewStreamingSession(rec)

	if err := session.WriteError("生成失败"); err != nil {
		t.Fatalf("写错误事件失败: %v", err)
	}
	session.Close()

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "生成失败") {
		t.Fatalf("缺少错误事件: %s", body)
	}
}
