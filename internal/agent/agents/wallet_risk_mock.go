package agents

import (
	"context"
	"fmt"
	"strings"

	"defiseek/internal/agent"
)

// MockWalletRiskAgent 是钱包风险智能体的确定性模拟实现。
// 它不访问任何外部服务，产出是地址的纯函数，供演示与测试环境显式启用。
// 生产装配绝不自动替换到该实现。
type MockWalletRiskAgent struct{}

// NewMockWalletRiskAgent 创建模拟版钱包风险智能体。
func NewMockWalletRiskAgent() *MockWalletRiskAgent {
	return &MockWalletRiskAgent{}
}

func (a *MockWalletRiskAgent) ID() string { return WalletRiskAgentID }

func (a *MockWalletRiskAgent) Describe() string {
	return "分析钱包地址的风险评分、风险等级与可疑行为标记（确定性模拟数据）"
}

func (a *MockWalletRiskAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	address, err := extractAddress(in)
	if err != nil {
		return nil, err
	}
	chain := resolveChain(in)

	score := MockRiskScore(address)
	level := riskLevelOf(score)
	flags := mockFlags(address, score)

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

// MockRiskScore 由地址推导风险分数。
// 滚动多项式哈希：hash = (hash*31 + c) mod 2^31，分数取 hash mod 100。
// 对同一地址必须逐位可复现，测试依赖其精确输出。
func MockRiskScore(address string) int {
	const mod = int64(1) << 31
	var hash int64
	for _, c := range address {
		hash = (hash*31 + int64(c)) % mod
	}
	if hash < 0 {
		hash = -hash
	}
	return int(hash % 100)
}

// mockFlags 按固定顺序推导风险标记。
func mockFlags(address string, score int) []string {
	flags := []string{}
	if score > 70 {
		flags = append(flags, FlagHighRiskPattern)
	}
	if score > 50 {
		flags = append(flags, FlagUnusualActivity)
	}
	if strings.Contains(strings.ToLower(address), "dead") {
		flags = append(flags, FlagKnownScam)
	}
	return flags
}
