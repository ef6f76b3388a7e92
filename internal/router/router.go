// Package router 负责把用户查询分类为路由决策。
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	xerrors "defiseek/internal/errors"
	"defiseek/internal/llm"
	"defiseek/pkg/logger"
)

// QueryType 是查询类别的固定枚举。
type QueryType string

const (
	QueryRiskAnalysis     QueryType = "risk_analysis"
	QueryMarketAnalysis   QueryType = "market_analysis"
	QueryWalletAnalysis   QueryType = "wallet_analysis"
	QueryProtocolAnalysis QueryType = "protocol_analysis"
	QueryNFTAnalysis      QueryType = "nft_analysis"
	QueryGeneralInfo      QueryType = "general_info"
)

// Priority 是路由决策的优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Decision 是一次查询的路由决策，随请求产生，不落库。
type Decision struct {
	QueryType      QueryType `json:"queryType"`
	RequiredAgents []string  `json:"requiredAgents"`
	Priority       Priority  `json:"priority"`
	Confidence     int       `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
}

// DefaultDecision 是解析失败时的兜底决策。
// 协调层必须能在零智能体的情况下继续工作。
func DefaultDecision() *Decision {
	return &Decision{
		QueryType:      QueryGeneralInfo,
		RequiredAgents: []string{},
		Priority:       PriorityMedium,
		Confidence:     70,
		Reasoning:      "fallback",
	}
}

// Router 通过一次大模型分类调用产出路由决策。
type Router struct {
	client   llm.Client
	agentIDs []string
}

// New 创建路由器。agentIDs 是模型允许请求的智能体标识全集。
func New(client llm.Client, agentIDs []string) *Router {
	return &Router{client: client, agentIDs: agentIDs}
}

const routeInstruction = `你是 DeFi 查询分类器。请把用户查询分类，并以严格 JSON 返回，不要输出任何其他文字：
{"queryType":"<类别>","requiredAgents":["<标识>"],"priority":"<high|medium|low>","confidence":<0-100 整数>,"reasoning":"<一句话理由>"}
允许的 queryType：risk_analysis、market_analysis、wallet_analysis、protocol_analysis、nft_analysis、general_info。
允许的 requiredAgents 标识：%s。
查询不需要外部数据时 requiredAgents 返回空数组。`

// Route 对查询进行分类。任何失败都退化为兜底决策，绝不向调用方返回错误。
func (r *Router) Route(ctx context.Context, query string) *Decision {
	resp, err := r.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(routeInstruction, strings.Join(r.agentIDs, "、"))},
			{Role: llm.RoleUser, Content: query},
		},
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		logger.L().Warn("路由分类调用失败，使用兜底决策", "error", err)
		return DefaultDecision()
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		logger.L().Warn("路由决策不可解析，使用兜底决策",
			"error", xerrors.Wrap(xerrors.CodeRoutingParse, err, ""))
		return DefaultDecision()
	}
	return decision
}

// parseDecision 防御性解析模型输出：先剥掉代码围栏，解析失败再尝试修复。
func parseDecision(raw string) (*Decision, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, fmt.Errorf("模型输出为空")
	}

	var decision Decision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
			return nil, err
		}
	}
	return sanitize(&decision)
}

// sanitize 校验枚举字段并把置信度截断到 0..100。
func sanitize(d *Decision) (*Decision, error) {
	switch d.QueryType {
	case QueryRiskAnalysis, QueryMarketAnalysis, QueryWalletAnalysis,
		QueryProtocolAnalysis, QueryNFTAnalysis, QueryGeneralInfo:
	default:
		return nil, fmt.Errorf("非法的查询类别 %q", d.QueryType)
	}
	switch d.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	case "":
		d.Priority = PriorityMedium
	default:
		return nil, fmt.Errorf("非法的优先级 %q", d.Priority)
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 100 {
		d.Confidence = 100
	}
	if d.RequiredAgents == nil {
		d.RequiredAgents = []string{}
	}
	return d, nil
}

// stripCodeFence 去掉 Markdown 代码围栏包装。
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// 跳过 ```json 之类的语言标记行
		first := strings.TrimSpace(text[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
