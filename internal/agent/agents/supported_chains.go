package agents

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	"defiseek/internal/unleash"
)

// SupportedChainsAgentID 是链列表智能体的注册标识。
const SupportedChainsAgentID = "supportedChainsAgent"

// SupportedChainsReport 是链列表查询的结构化产出。
type SupportedChainsReport struct {
	Chains []unleash.ChainDescriptor `json:"chains"`
	Count  int                       `json:"count"`
}

// SupportedChainsSchema 返回链列表产出的契约。
func SupportedChainsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"chains", "count"},
		Properties: map[string]*jsonschema.Schema{
			"chains": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"id", "name", "slug"},
					Properties: map[string]*jsonschema.Schema{
						"id":   {Type: "integer"},
						"name": {Type: "string"},
						"slug": {Type: "string"},
					},
				},
			},
			"count": {Type: "integer"},
		},
	}
}

// SupportedChainsAgent 基于链列表缓存回答"支持哪些链"。
type SupportedChainsAgent struct {
	cache *unleash.ChainCache
}

// NewSupportedChainsAgent 创建链列表智能体。
func NewSupportedChainsAgent(cache *unleash.ChainCache) *SupportedChainsAgent {
	return &SupportedChainsAgent{cache: cache}
}

func (a *SupportedChainsAgent) ID() string { return SupportedChainsAgentID }

func (a *SupportedChainsAgent) Describe() string {
	return "列出当前数据源支持的所有区块链"
}

func (a *SupportedChainsAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	chains, err := a.cache.Supported(ctx)
	if err != nil {
		return nil, err
	}

	report := SupportedChainsReport{Chains: chains, Count: len(chains)}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("当前支持 %d 条链", report.Count),
		Component: &agent.Component{
			Type:  "chain-list",
			Props: map[string]any{"count": report.Count},
		},
	}, nil
}
