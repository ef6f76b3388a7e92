// Package api 暴露 DeFiSeek 的 HTTP 接口：聊天流式问答、历史、投票与令牌签发。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"defiseek/internal/auth"
	"defiseek/internal/chat"
	"defiseek/internal/coordinator"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/llm"
	"defiseek/internal/observability/alerting"
	"defiseek/internal/observability/metrics"
	"defiseek/internal/router"
	"defiseek/internal/usage"
	"defiseek/pkg/logger"
)

// anonymousUserID 在认证关闭时作为所有请求的归属用户。
const anonymousUserID = "anonymous"

// Deps 汇集 API 层依赖，由 main 显式装配后注入。
type Deps struct {
	Auth        *auth.Service
	Chats       *chat.Service
	Router      *router.Router
	Coordinator *coordinator.Coordinator
	// Models 把用户选择的 modelId 解析为绑定到对应模型的客户端，可为 nil。
	Models   llm.Selector
	Recorder *usage.Recorder
	Alerts      alerting.Dispatcher
}

// Server 负责暴露 REST + SSE 接口。
type Server struct {
	addr string
	deps Deps
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Handler 组装完整路由，供 Start 与测试共用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	guard := s.deps.Auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:    {"chat:read"},
			http.MethodPost:   {"chat:write"},
			http.MethodPatch:  {"chat:write"},
			http.MethodDelete: {"chat:write"},
		},
		AuditEvent: "chat_api",
	})

	mux.Handle("/api/chat", guard(s.observe("chat", s.handleChat)))
	mux.Handle("/api/chat/exists/", guard(s.observe("chat_exists", s.handleChatExists)))
	mux.Handle("/api/history", guard(s.observe("history", s.handleHistory)))
	mux.Handle("/api/vote", guard(s.observe("vote", s.handleVote)))
	mux.Handle("/api/models", s.observe("models", s.handleModels))
	mux.Handle("/api/auth/token", s.observe("auth_token", s.handleToken))
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- 聊天 ----

type chatRequest struct {
	ID       string        `json:"id"`
	Messages []chatMessage `json:"messages"`
	ModelID  string        `json:"modelId"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type componentView struct {
	AgentID string         `json:"agentId"`
	Type    string         `json:"type"`
	Props   map[string]any `json:"props"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSendMessage(w, r)
	case http.MethodDelete:
		s.handleDeleteChat(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST/DELETE", "")
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestUserID(ctx)
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败", err.Error())
		return
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = llm.DefaultModelID
	}
	info, ok := llm.LookupModel(modelID)
	if !ok {
		writeError(w, http.StatusNotFound, "未知的模型", modelID)
		return
	}
	co := s.deps.Coordinator
	if s.deps.Models != nil {
		co = co.WithClient(s.deps.Models.ForModel(info.APIModel))
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		writeError(w, http.StatusBadRequest, "最后一条用户消息为空", "")
		return
	}

	conversation, _, err := s.deps.Chats.EnsureChat(ctx, req.ID, userID, query, chat.VisibilityPrivate)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeAuthRequired) {
			writeError(w, http.StatusUnauthorized, "无权访问该会话", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "会话创建失败", err.Error())
		return
	}

	if _, err := s.deps.Chats.AppendMessage(ctx, conversation.ID, chat.RoleUser, query); err != nil {
		writeError(w, http.StatusInternalServerError, "消息保存失败", err.Error())
		return
	}

	if preferJSON(r) {
		s.completeJSON(w, r, co, conversation, userID, modelID, query, start)
		return
	}
	s.completeStream(w, r, co, conversation, userID, modelID, query, start)
}

// completeStream 走 SSE 路径：会话 ID 注解先行，随后组件注解、文本增量、消息 ID 注解。
// 会话在任何路径上都恰好关闭一次。
func (s *Server) completeStream(w http.ResponseWriter, r *http.Request, co *coordinator.Coordinator, conversation *chat.Chat, userID, modelID, query string, start time.Time) {
	ctx := r.Context()
	session := NewStreamingSession(w)
	defer session.Close()

	// 会话行已经存在，客户端可以立即切换路由。
	_ = session.WriteAnnotation("chat_id", conversation.ID)

	decision := s.deps.Router.Route(ctx, query)
	result, err := co.CoordinateStream(ctx, query, decision)
	if err != nil {
		alerting.DispatchError(ctx, s.deps.Alerts, err, conversation.ID)
		s.recordUsage(ctx, usage.KindChatFailed, conversation.ID, userID, modelID, decision, nil, start)
		_ = session.WriteError("回答生成失败，请稍后重试")
		return
	}
	defer func() { _ = result.Answer.Close() }()
	s.observeOutcomes(ctx, conversation.ID, result.Outcomes)

	for agentID, component := range result.Components {
		_ = session.WriteAnnotation("component", componentView{
			AgentID: agentID,
			Type:    component.Type,
			Props:   component.Props,
		})
	}

	var answer strings.Builder
	for {
		chunk, err := result.Answer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			alerting.DispatchError(ctx, s.deps.Alerts,
				xerrors.Wrap(xerrors.CodeSynthesisFailure, err, "回答流中断"), conversation.ID)
			s.recordUsage(ctx, usage.KindChatFailed, conversation.ID, userID, modelID, decision, result.Outcomes, start)
			_ = session.WriteError("回答生成中断，请稍后重试")
			return
		}
		answer.WriteString(chunk.Delta)
		_ = session.WriteText(chunk.Delta)
	}

	message, err := s.deps.Chats.AppendMessage(ctx, conversation.ID, chat.RoleAssistant, answer.String())
	if err != nil {
		logger.L().Warn("助手消息保存失败", "chat_id", conversation.ID, "error", err)
	} else {
		_ = session.WriteAnnotation("message_id", message.ID)
	}

	s.recordUsage(ctx, usage.KindChatCompleted, conversation.ID, userID, modelID, decision, result.Outcomes, start)
}

type chatResponse struct {
	ChatID     string          `json:"chatId"`
	MessageID  string          `json:"messageId"`
	Answer     string          `json:"answer"`
	Components []componentView `json:"components,omitempty"`
}

// completeJSON 走一次性 JSON 路径，供 SDK 等非流式客户端使用。
func (s *Server) completeJSON(w http.ResponseWriter, r *http.Request, co *coordinator.Coordinator, conversation *chat.Chat, userID, modelID, query string, start time.Time) {
	ctx := r.Context()

	decision := s.deps.Router.Route(ctx, query)
	result, err := co.Coordinate(ctx, query, decision)
	if err != nil {
		alerting.DispatchError(ctx, s.deps.Alerts, err, conversation.ID)
		s.recordUsage(ctx, usage.KindChatFailed, conversation.ID, userID, modelID, decision, nil, start)
		writeError(w, http.StatusInternalServerError, "回答生成失败", string(xerrors.CodeOf(err)))
		return
	}
	s.observeOutcomes(ctx, conversation.ID, result.Outcomes)

	message, err := s.deps.Chats.AppendMessage(ctx, conversation.ID, chat.RoleAssistant, result.Answer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "消息保存失败", err.Error())
		return
	}

	resp := chatResponse{ChatID: conversation.ID, MessageID: message.ID, Answer: result.Answer}
	for agentID, component := range result.Components {
		resp.Components = append(resp.Components, componentView{
			AgentID: agentID,
			Type:    component.Type,
			Props:   component.Props,
		})
	}

	s.recordUsage(ctx, usage.KindChatCompleted, conversation.ID, userID, modelID, decision, result.Outcomes, start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "缺少会话 ID", "")
		return
	}

	err := s.deps.Chats.Delete(r.Context(), id, requestUserID(r.Context()))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("会话已删除"))
	case xerrors.IsCode(err, xerrors.CodeNotFound):
		writeError(w, http.StatusNotFound, "会话不存在", "")
	case xerrors.IsCode(err, xerrors.CodeAuthRequired):
		writeError(w, http.StatusUnauthorized, "无权删除该会话", "")
	default:
		writeError(w, http.StatusInternalServerError, "会话删除失败", err.Error())
	}
}

func (s *Server) handleChatExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/chat/exists/")
	if id == "" {
		writeError(w, http.StatusNotFound, "缺少会话 ID", "")
		return
	}

	// 归属校验：别人的会话对当前用户视同不存在。
	exists := false
	if conversation, err := s.deps.Chats.Store().GetChat(r.Context(), id); err == nil {
		exists = conversation.UserID == requestUserID(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// ---- 历史与投票 ----

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET", "")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	// History 内部吞掉存储错误，本接口永远返回 200 + 数组。
	chats := s.deps.Chats.History(r.Context(), requestUserID(r.Context()), limit)
	writeJSON(w, http.StatusOK, chats)
}

type voteRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chatID := r.URL.Query().Get("chatId")
		if chatID == "" {
			writeError(w, http.StatusBadRequest, "缺少 chatId", "")
			return
		}
		votes, err := s.deps.Chats.Votes(r.Context(), chatID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "投票查询失败", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, votes)
	case http.MethodPatch:
		var req voteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "请求体解析失败", err.Error())
			return
		}
		if req.ChatID == "" || req.MessageID == "" {
			writeError(w, http.StatusBadRequest, "缺少 chatId 或 messageId", "")
			return
		}
		err := s.deps.Chats.SetVote(r.Context(), &chat.Vote{
			ChatID:    req.ChatID,
			MessageID: req.MessageID,
			IsUpvoted: req.Type == "up",
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case xerrors.IsCode(err, xerrors.CodeNotFound):
			writeError(w, http.StatusNotFound, "会话不存在", "")
		default:
			writeError(w, http.StatusInternalServerError, "投票保存失败", err.Error())
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/PATCH", "")
	}
}

// ---- 模型与认证 ----

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET", "")
		return
	}
	writeJSON(w, http.StatusOK, llm.DefaultModels)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST", "")
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败", err.Error())
		return
	}
	pair, err := s.deps.Auth.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrSubjectRevoked):
			writeError(w, http.StatusUnauthorized, "认证失败", "")
		case errors.Is(err, auth.ErrUnsupportedGrant), errors.Is(err, auth.ErrDisabled):
			writeError(w, http.StatusBadRequest, "不支持的授权方式", "")
		default:
			writeError(w, http.StatusInternalServerError, "令牌签发失败", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// ---- 内部辅助 ----

// observeOutcomes 为失败的智能体累计指标并分发必要的告警。
func (s *Server) observeOutcomes(ctx context.Context, chatID string, outcomes map[string]*coordinator.Outcome) {
	for id, outcome := range outcomes {
		if outcome.Succeeded() {
			continue
		}
		metrics.ObserveAgentFailure(id)
		alerting.DispatchError(ctx, s.deps.Alerts, outcome.Err, chatID)
	}
}

func (s *Server) recordUsage(ctx context.Context, kind usage.Kind, chatID, userID, modelID string, decision *router.Decision, outcomes map[string]*coordinator.Outcome, start time.Time) {
	if s.deps.Recorder == nil {
		return
	}
	event := &usage.Event{
		Kind:      kind,
		ChatID:    chatID,
		UserID:    userID,
		ModelID:   modelID,
		QueryType: string(decision.QueryType),
		AgentIDs:  decision.RequiredAgents,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for id, outcome := range outcomes {
		if !outcome.Succeeded() {
			event.FailedAgents = append(event.FailedAgents, id)
		}
	}
	s.deps.Recorder.Record(ctx, event)
}

// observe 包装处理器以采集 HTTP 指标。
func (s *Server) observe(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requestUserID 取当前请求的用户标识；认证关闭时退化为匿名用户。
func requestUserID(ctx context.Context) string {
	if subject := auth.SubjectFromContext(ctx); subject != nil && subject.ID != "" {
		return subject.ID
	}
	return anonymousUserID
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(chat.RoleUser) {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func preferJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]string{"error": message, "details": details})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭", "")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
