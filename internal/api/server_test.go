package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"defiseek/internal/agent"
	"defiseek/internal/agent/agents"
	"defiseek/internal/auth"
	"defiseek/internal/chat"
	"defiseek/internal/coordinator"
	"defiseek/internal/llm"
	"defiseek/internal/router"
	"defiseek/internal/usage"
)

type stubLLM struct {
	routeJSON string
	chunks    []string
	streamErr error
	selected  []string
}

func (c *stubLLM) ForModel(apiModel string) llm.Client {
	c.selected = append(c.selected, apiModel)
	return c
}

func (c *stubLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	if req.JSONOnly {
		return &llm.Response{Content: c.routeJSON}, nil
	}
	return &llm.Response{Content: strings.Join(c.chunks, "")}, nil
}

func (c *stubLLM) Stream(_ context.Context, _ llm.Request) (llm.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return &sliceStream{chunks: c.chunks}, nil
}

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	chunk := llm.Chunk{Delta: s.chunks[s.pos]}
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error { return nil }

type failingChatStore struct {
	chat.Store
}

func (failingChatStore) ListChatsByUser(context.Context, string, int) ([]*chat.Chat, error) {
	return nil, errors.New("storage down")
}

func newTestServer(t *testing.T, client llm.Client) *Server {
	t.Helper()

	authSvc, err := auth.NewService(context.Background(), auth.Config{Mode: auth.ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}

	registry := agent.NewRegistry()
	if err := registry.Register(agents.NewMockWalletRiskAgent(), agents.WalletRiskSchema()); err != nil {
		t.Fatalf("注册智能体失败: %v", err)
	}

	chats := chat.NewService(chat.NewMemoryStore())
	recorder := usage.NewRecorder(usage.NewMemoryStore(), usage.NewMemoryQueue(16))

	deps := Deps{
		Auth:        authSvc,
		Chats:       chats,
		Router:      router.New(client, registry.IDs()),
		Coordinator: coordinator.New(registry, client, nil),
		Recorder:    recorder,
	}
	if selector, ok := client.(llm.Selector); ok {
		deps.Models = selector
	}
	return NewServer(":0", deps)
}

type ssePayload struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []ssePayload {
	t.Helper()
	var events []ssePayload
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var event ssePayload
		for _, line := range strings.Split(block, "\n") {
			if rest, ok := strings.CutPrefix(line, "event: "); ok {
				event.event = rest
			}
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				event.data = rest
			}
		}
		events = append(events, event)
	}
	return events
}

func postChat(t *testing.T, server *Server, body string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatStreamScamAddress(t *testing.T) {
	client := &stubLLM{
		routeJSON: `{"queryType":"risk_analysis","requiredAgents":["walletRiskAgent"],"priority":"high","confidence":95,"reasoning":"风险查询"}`,
		chunks:    []string{"请查看上方的风险卡片。", "该地址匹配已知诈骗模式，建议 AVOID，不要与其交互。"},
	}
	server := newTestServer(t, client)

	body := `{"messages":[{"role":"user","content":"检查 0xdeadDEADdeadDEADdeadDEADdeadDEADdeadDEAD 安全吗"}]}`
	rec := postChat(t, server, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("状态码不符: got %d want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type 不符: %q", got)
	}

	events := parseSSE(t, rec.Body.String())

	firstText := -1
	chatIDIdx := -1
	messageIDIdx := -1
	componentIdx := -1
	doneCount := 0
	var answer strings.Builder
	for i, event := range events {
		switch event.event {
		case "text":
			if firstText == -1 {
				firstText = i
			}
			var payload struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
				t.Fatalf("解析文本事件失败: %v", err)
			}
			answer.WriteString(payload.Delta)
		case "annotation":
			var payload struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
				t.Fatalf("解析注解失败: %v", err)
			}
			switch payload.Type {
			case "chat_id":
				chatIDIdx = i
			case "message_id":
				messageIDIdx = i
			case "component":
				componentIdx = i
				if !strings.Contains(string(payload.Data), "known_scam") {
					t.Fatalf("组件注解缺少 known_scam 标记: %s", payload.Data)
				}
				if !strings.Contains(string(payload.Data), "wallet-risk-card") {
					t.Fatalf("组件注解类型不符: %s", payload.Data)
				}
			}
		case "done":
			doneCount++
		case "error":
			t.Fatalf("不应出现错误事件: %s", event.data)
		}
	}

	if chatIDIdx == -1 {
		t.Fatal("缺少 chat_id 注解")
	}
	if firstText == -1 || chatIDIdx > firstText {
		t.Fatalf("chat_id 注解必须先于文本: chat_id=%d firstText=%d", chatIDIdx, firstText)
	}
	if componentIdx == -1 || componentIdx > firstText {
		t.Fatalf("组件注解必须先于文本: component=%d firstText=%d", componentIdx, firstText)
	}
	if messageIDIdx == -1 || messageIDIdx < firstText {
		t.Fatalf("message_id 注解应在文本之后: message_id=%d", messageIDIdx)
	}
	if doneCount != 1 {
		t.Fatalf("done 事件应恰好出现一次: got %d", doneCount)
	}
	if !strings.Contains(answer.String(), "AVOID") {
		t.Fatalf("回答缺少 AVOID 建议: %s", answer.String())
	}
}

func TestChatStreamSynthesisFailure(t *testing.T) {
	client := &stubLLM{
		routeJSON: `{"queryType":"general_info","requiredAgents":[],"priority":"medium","confidence":80,"reasoning":"通识"}`,
		streamErr: errors.New("model unreachable"),
	}
	server := newTestServer(t, client)

	rec := postChat(t, server, `{"messages":[{"role":"user","content":"什么是 DeFi"}]}`, "")

	events := parseSSE(t, rec.Body.String())
	sawError := false
	doneCount := 0
	for _, event := range events {
		switch event.event {
		case "error":
			sawError = true
			if strings.Contains(event.data, "model unreachable") {
				t.Fatalf("错误事件泄露了内部细节: %s", event.data)
			}
		case "done":
			doneCount++
		case "text":
			t.Fatal("合成失败后不应有文本事件")
		}
	}
	if !sawError {
		t.Fatal("缺少错误事件")
	}
	if doneCount != 1 {
		t.Fatalf("失败路径也必须恰好关闭一次: done=%d", doneCount)
	}
}

func TestChatJSONMode(t *testing.T) {
	client := &stubLLM{
		routeJSON: `{"queryType":"risk_analysis","requiredAgents":["walletRiskAgent"],"priority":"high","confidence":90,"reasoning":"风险"}`,
		chunks:    []string{"该地址风险较低。"},
	}
	server := newTestServer(t, client)

	body := `{"messages":[{"role":"user","content":"查一下 0x000000000000000000000000000000000000000a"}]}`
	rec := postChat(t, server, body, "application/json")

	if rec.Code != http.StatusOK {
		t.Fatalf("状态码不符: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.ChatID == "" || resp.MessageID == "" {
		t.Fatalf("缺少会话或消息标识: %+v", resp)
	}
	if resp.Answer != "该地址风险较低。" {
		t.Fatalf("回答不符: %q", resp.Answer)
	}
	if len(resp.Components) != 1 || resp.Components[0].Type != "wallet-risk-card" {
		t.Fatalf("组件不符: %+v", resp.Components)
	}
}

func TestChatResolvesSelectedModel(t *testing.T) {
	client := &stubLLM{
		routeJSON: `{"queryType":"general_info","requiredAgents":[],"priority":"medium","confidence":80,"reasoning":"通识"}`,
		chunks:    []string{"回答"},
	}
	server := newTestServer(t, client)

	body := `{"modelId":"llama-3.3-70b","messages":[{"role":"user","content":"什么是 Gas 费"}]}`
	rec := postChat(t, server, body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码不符: got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(client.selected) != 1 || client.selected[0] != "llama-3.3-70b-versatile" {
		t.Fatalf("合成调用未落到所选模型: %v", client.selected)
	}

	// 未显式选择时落到默认模型。
	rec = postChat(t, server, `{"messages":[{"role":"user","content":"什么是 DeFi"}]}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码不符: got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(client.selected) != 2 || client.selected[1] != llm.DefaultModelID {
		t.Fatalf("默认模型解析不符: %v", client.selected)
	}
}

func TestChatValidation(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})

	t.Run("unknown model", func(t *testing.T) {
		rec := postChat(t, server, `{"modelId":"gpt-99","messages":[{"role":"user","content":"hi"}]}`, "application/json")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("期望 404，got %d", rec.Code)
		}
	})

	t.Run("empty last user message", func(t *testing.T) {
		rec := postChat(t, server, `{"messages":[{"role":"assistant","content":"你好"}]}`, "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("期望 400，got %d", rec.Code)
		}
	})

	t.Run("bad body", func(t *testing.T) {
		rec := postChat(t, server, `{bad`, "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("期望 400，got %d", rec.Code)
		}
	})
}

func TestHistoryNeverFails(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})
	server.deps.Chats = chat.NewService(failingChatStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("历史接口不允许报错: got %d", rec.Code)
	}
	var chats []*chat.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("期望空列表，got %d", len(chats))
	}
}

func TestDeleteChat(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})
	ctx := context.Background()

	conversation, _, err := server.deps.Chats.EnsureChat(ctx, "", anonymousUserID, "第一条消息", chat.VisibilityPrivate)
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/chat", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("期望 404，got %d", rec.Code)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/chat?id=missing", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("期望 404，got %d", rec.Code)
		}
	})

	t.Run("owner delete", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/chat?id="+conversation.ID, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("期望 200，got %d body=%s", rec.Code, rec.Body.String())
		}
	})
}

func TestVoteFlow(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})
	ctx := context.Background()

	conversation, _, err := server.deps.Chats.EnsureChat(ctx, "", anonymousUserID, "投票测试", chat.VisibilityPrivate)
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	message, err := server.deps.Chats.AppendMessage(ctx, conversation.ID, chat.RoleAssistant, "回答")
	if err != nil {
		t.Fatalf("写入消息失败: %v", err)
	}

	patch := `{"chatId":"` + conversation.ID + `","messageId":"` + message.ID + `","type":"up"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/vote", bytes.NewBufferString(patch))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("投票失败: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/vote?chatId="+conversation.ID, nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	var votes []*chat.Vote
	if err := json.Unmarshal(rec.Body.Bytes(), &votes); err != nil {
		t.Fatalf("解析投票失败: %v", err)
	}
	if len(votes) != 1 || !votes[0].IsUpvoted {
		t.Fatalf("投票结果不符: %+v", votes)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/vote", bytes.NewBufferString(`{"chatId":"missing","messageId":"m","type":"up"}`))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知会话投票应 404: %d", rec.Code)
	}
}

func TestChatExists(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})
	ctx := context.Background()

	conversation, _, err := server.deps.Chats.EnsureChat(ctx, "", anonymousUserID, "存在性测试", chat.VisibilityPrivate)
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	foreign, _, err := server.deps.Chats.EnsureChat(ctx, "", "someone-else", "别人的会话", chat.VisibilityPrivate)
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}

	check := func(id string) bool {
		req := httptest.NewRequest(http.MethodGet, "/api/chat/exists/"+id, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("期望 200，got %d", rec.Code)
		}
		var resp struct {
			Exists bool `json:"exists"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		return resp.Exists
	}

	if !check(conversation.ID) {
		t.Fatal("自己的会话应存在")
	}
	if check(foreign.ID) {
		t.Fatal("别人的会话应视同不存在")
	}
	if check("missing") {
		t.Fatal("未知会话应不存在")
	}
}

func TestModels(t *testing.T) {
	server := newTestServer(t, &stubLLM{routeJSON: "{}"})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200，got %d", rec.Code)
	}
	var models []llm.ModelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("解析模型清单失败: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("模型清单不应为空")
	}
}
