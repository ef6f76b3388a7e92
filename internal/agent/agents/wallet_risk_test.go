package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/unleash"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) *unleash.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := unleash.NewClient(unleash.Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestWalletRiskAgentSuccess(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("address"); got == "" {
			t.Errorf("missing address query param")
		}
		w.Write([]byte(`{"data":[{"risk_score":85,"labels":["sanctioned"]}]}`))
	})

	out, err := NewWalletRiskAgent(client).Run(context.Background(), agent.Input{
		Query: "check 0x1234567890abcdef1234567890abcdef12345678",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report := out.Payload.(WalletRiskReport)
	if report.RiskScore != 85 || report.RiskLevel != RiskLevelCritical {
		t.Fatalf("unexpected report: %+v", report)
	}
	if out.Component == nil || out.Component.Type != "wallet-risk-card" {
		t.Fatalf("expected wallet-risk-card component, got %+v", out.Component)
	}
}

func TestWalletRiskAgentPropagatesTransportError(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := NewWalletRiskAgent(client).Run(context.Background(), agent.Input{
		Query: "check 0x1234567890abcdef1234567890abcdef12345678",
	})
	if !xerrors.IsCode(err, xerrors.CodeAgentTransport) {
		t.Fatalf("unexpected error code: got %v want %v", xerrors.CodeOf(err), xerrors.CodeAgentTransport)
	}
}

func TestWalletRiskAgentEmptyData(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := NewWalletRiskAgent(client).Run(context.Background(), agent.Input{
		Query: "check 0x1234567890abcdef1234567890abcdef12345678",
	})
	if !xerrors.IsCode(err, xerrors.CodeAgentDataUnavailable) {
		t.Fatalf("unexpected error code: got %v", xerrors.CodeOf(err))
	}
}

func TestMarketTrendAgent(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"volume":1234.5,"volume_change":-3.2,"traders":900,"traders_change":1.5}]}`))
	})

	out, err := NewMarketTrendAgent(client).Run(context.Background(), agent.Input{Chain: "polygon"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report := out.Payload.(MarketTrendReport)
	if report.Chain != "polygon" || report.Traders != 900 || report.TradersTrend != "up" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestSupportedChainsAgent(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":1,"name":"Ethereum","slug":"ethereum"}]}`))
	})
	cache := unleash.NewChainCache(client, 0)

	out, err := NewSupportedChainsAgent(cache).Run(context.Background(), agent.Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report := out.Payload.(SupportedChainsReport)
	if report.Count != 1 || report.Chains[0].Slug != "ethereum" {
		t.Fatalf("unexpected report: %+v", report)
	}
}
