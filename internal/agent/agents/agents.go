// Package agents 提供内置智能体的实现。
// 每个智能体封装一个外部数据源的查询，并声明自己的输出契约。
package agents

import (
	"regexp"
	"strings"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
)

// DefaultChain 是未指定链时的默认值。
const DefaultChain = "ethereum"

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// extractAddress 从输入中提取 EVM 地址。优先使用路由层提取的参数。
func extractAddress(in agent.Input) (string, error) {
	if addr := strings.TrimSpace(in.Params["address"]); addr != "" {
		return addr, nil
	}
	if addr := addressPattern.FindString(in.Query); addr != "" {
		return addr, nil
	}
	return "", xerrors.New(xerrors.CodeInvalidArgument, "查询中不包含钱包地址")
}

func f64(v float64) *float64 { return &v }

// resolveChain 返回本次调用使用的链标识。
func resolveChain(in agent.Input) string {
	if chain := strings.TrimSpace(in.Chain); chain != "" {
		return strings.ToLower(chain)
	}
	if chain := strings.TrimSpace(in.Params["blockchain"]); chain != "" {
		return strings.ToLower(chain)
	}
	return DefaultChain
}
