package defiseek

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload struct {
			GrantType string `json:"grant_type"`
			Username  string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if payload.GrantType != "password" || payload.Username != "alice" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Authenticate(context.Background(), Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestSendMessageUsesJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Fatalf("expected JSON mode, got Accept=%q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(ChatResult{
			ChatID:    "chat-1",
			MessageID: "msg-1",
			Answer:    "地址风险较低。",
			Components: []Component{
				{AgentID: "walletRiskAgent", Type: "wallet-risk-card", Props: map[string]any{"riskScore": float64(12)}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")

	result, err := client.SendMessage(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "查一下这个地址"}},
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.ChatID != "chat-1" || result.Answer == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Components) != 1 || result.Components[0].Type != "wallet-risk-card" {
		t.Fatalf("unexpected components: %+v", result.Components)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "未知的模型", "details": "gpt-99"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.SendMessage(context.Background(), ChatRequest{ModelID: "gpt-99"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "未知的模型" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestHistoryAndVotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/history":
			if r.URL.Query().Get("limit") != "5" {
				t.Fatalf("unexpected limit: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode([]Chat{{ID: "chat-1", Title: "风险查询"}})
		case r.URL.Path == "/api/vote" && r.Method == http.MethodPatch:
			var payload struct {
				Type string `json:"type"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload.Type != "up" {
				t.Fatalf("unexpected vote type: %q", payload.Type)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case r.URL.Path == "/api/chat/exists/chat-1":
			_ = json.NewEncoder(w).Encode(map[string]bool{"exists": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	chats, err := client.History(context.Background(), 5)
	if err != nil || len(chats) != 1 {
		t.Fatalf("history: %v %+v", err, chats)
	}
	if err := client.Vote(context.Background(), "chat-1", "msg-1", true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	exists, err := client.ChatExists(context.Background(), "chat-1")
	if err != nil || !exists {
		t.Fatalf("chat exists: %v %v", err, exists)
	}
}
