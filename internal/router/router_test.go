package router

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"defiseek/internal/llm"
)

type stubLLM struct {
	content string
	err     error
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func (s *stubLLM) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestRouteParsesStrictJSON(t *testing.T) {
	r := New(&stubLLM{content: `{"queryType":"risk_analysis","requiredAgents":["walletRiskAgent"],"priority":"high","confidence":95,"reasoning":"wallet safety question"}`}, []string{"walletRiskAgent"})

	decision := r.Route(context.Background(), "Is wallet 0xabc safe?")
	if decision.QueryType != QueryRiskAnalysis {
		t.Fatalf("unexpected query type: got %s", decision.QueryType)
	}
	if !reflect.DeepEqual(decision.RequiredAgents, []string{"walletRiskAgent"}) {
		t.Fatalf("unexpected agents: %v", decision.RequiredAgents)
	}
	if decision.Confidence != 95 {
		t.Fatalf("unexpected confidence: got %d want 95", decision.Confidence)
	}
}

func TestRouteStripsMarkdownFence(t *testing.T) {
	content := "```json\n{\"queryType\":\"market_analysis\",\"requiredAgents\":[],\"priority\":\"medium\",\"confidence\":80,\"reasoning\":\"market question\"}\n```"
	r := New(&stubLLM{content: content}, nil)

	decision := r.Route(context.Background(), "how is the market?")
	if decision.QueryType != QueryMarketAnalysis {
		t.Fatalf("unexpected query type: got %s", decision.QueryType)
	}
}

func TestRouteRepairsSloppyJSON(t *testing.T) {
	// trailing comma plus unquoted key are repairable
	content := `{queryType: "nft_analysis", "requiredAgents": ["nftCollectionAgent"], "priority": "low", "confidence": 60, "reasoning": "nft",}`
	r := New(&stubLLM{content: content}, nil)

	decision := r.Route(context.Background(), "tell me about this collection")
	if decision.QueryType != QueryNFTAnalysis {
		t.Fatalf("unexpected query type: got %s", decision.QueryType)
	}
}

func TestRouteFallsBackOnGarbage(t *testing.T) {
	r := New(&stubLLM{content: "I think this is a wallet question."}, nil)

	decision := r.Route(context.Background(), "anything")
	if !reflect.DeepEqual(decision, DefaultDecision()) {
		t.Fatalf("expected default decision, got %+v", decision)
	}
}

func TestRouteFallsBackOnLLMError(t *testing.T) {
	r := New(&stubLLM{err: errors.New("provider down")}, nil)

	decision := r.Route(context.Background(), "anything")
	if !reflect.DeepEqual(decision, DefaultDecision()) {
		t.Fatalf("expected default decision, got %+v", decision)
	}
}

func TestRouteRejectsUnknownEnum(t *testing.T) {
	r := New(&stubLLM{content: `{"queryType":"weather","requiredAgents":[],"priority":"medium","confidence":50,"reasoning":"x"}`}, nil)

	decision := r.Route(context.Background(), "anything")
	if decision.QueryType != QueryGeneralInfo || decision.Reasoning != "fallback" {
		t.Fatalf("expected fallback for unknown enum, got %+v", decision)
	}
}

func TestRouteClampsConfidence(t *testing.T) {
	r := New(&stubLLM{content: `{"queryType":"general_info","requiredAgents":[],"priority":"medium","confidence":250,"reasoning":"x"}`}, nil)

	decision := r.Route(context.Background(), "anything")
	if decision.Confidence != 100 {
		t.Fatalf("unexpected confidence: got %d want 100", decision.Confidence)
	}
}
