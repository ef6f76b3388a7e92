package agents

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	"defiseek/internal/unleash"
)

// WalletRiskAgentID 是钱包风险智能体的注册标识。
const WalletRiskAgentID = "walletRiskAgent"

// 风险等级。
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// 风险标记。
const (
	FlagHighRiskPattern = "high_risk_pattern"
	FlagUnusualActivity = "unusual_activity"
	FlagKnownScam       = "known_scam"
)

// WalletRiskReport 是钱包风险分析的结构化产出。
type WalletRiskReport struct {
	Address        string   `json:"address"`
	Chain          string   `json:"chain"`
	RiskScore      int      `json:"riskScore"`
	RiskLevel      string   `json:"riskLevel"`
	Flags          []string `json:"flags"`
	Recommendation string   `json:"recommendation"`
}

// WalletRiskSchema 返回钱包风险产出的契约。
func WalletRiskSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"address", "chain", "riskScore", "riskLevel", "flags", "recommendation"},
		Properties: map[string]*jsonschema.Schema{
			"address":   {Type: "string"},
			"chain":     {Type: "string"},
			"riskScore": {Type: "integer", Minimum: f64(0), Maximum: f64(100)},
			"riskLevel": {
				Type: "string",
				Enum: []any{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical},
			},
			"flags":          {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"recommendation": {Type: "string"},
		},
	}
}

// riskLevelOf 根据分数划定风险等级。边界为 30/60/80。
func riskLevelOf(score int) string {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// recommendationOf 生成面向用户的处置建议。
func recommendationOf(level string, flags []string) string {
	for _, f := range flags {
		if f == FlagKnownScam {
			return "AVOID - 该地址匹配已知诈骗模式，不要与其交互"
		}
	}
	switch level {
	case RiskLevelCritical:
		return "AVOID - 风险处于 critical 等级，不建议与该地址交互"
	case RiskLevelHigh:
		return "CAUTION - 风险较高，交互前请充分核实"
	case RiskLevelMedium:
		return "REVIEW - 存在中等风险信号，建议进一步调查"
	default:
		return "LOW RISK - 未发现明显风险信号"
	}
}

// WalletRiskAgent 调用上游风险评分端点的生产实现。
// 上游失败时只返回带错误码的失败，不做任何数据代偿。
type WalletRiskAgent struct {
	client *unleash.Client
}

// NewWalletRiskAgent 创建生产版钱包风险智能体。
func NewWalletRiskAgent(client *unleash.Client) *WalletRiskAgent {
	return &WalletRiskAgent{client: client}
}

func (a *WalletRiskAgent) ID() string { return WalletRiskAgentID }

func (a *WalletRiskAgent) Describe() string {
	return "分析钱包地址的风险评分、风险等级与可疑行为标记"
}

func (a *WalletRiskAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	address, err := extractAddress(in)
	if err != nil {
		return nil, err
	}
	chain := resolveChain(in)

	var wire struct {
		RiskScore float64  `json:"risk_score"`
		Labels    []string `json:"labels"`
	}
	query := url.Values{}
	query.Set("address", address)
	query.Set("blockchain", chain)
	if err := a.client.GetOne(ctx, "/wallet/score", query, &wire); err != nil {
		return nil, err
	}

	score := int(wire.RiskScore)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	level := riskLevelOf(score)
	flags := wire.Labels
	if flags == nil {
		flags = []string{}
	}

	report := WalletRiskReport{
		Address:        address,
		Chain:          chain,
		RiskScore:      score,
		RiskLevel:      level,
		Flags:          flags,
		Recommendation: recommendationOf(level, flags),
	}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("钱包 %s 风险评分 %d（%s）", address, score, level),
		Component: &agent.Component{
			Type: "wallet-risk-card",
			Props: map[string]any{
				"address":   address,
				"riskScore": score,
				"riskLevel": level,
				"flags":     flags,
			},
		},
	}, nil
}
