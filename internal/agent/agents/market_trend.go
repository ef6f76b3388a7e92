package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/unleash"
)

// MarketTrendAgentID 是市场趋势智能体的注册标识。
const MarketTrendAgentID = "marketTrendAgent"

// MarketTrendReport 是市场趋势分析的结构化产出。
type MarketTrendReport struct {
	Chain        string  `json:"chain"`
	Volume       float64 `json:"volume"`
	VolumeChange float64 `json:"volumeChange"`
	Traders      int     `json:"traders"`
	TradersTrend string  `json:"tradersTrend"`
}

// MarketTrendSchema 返回市场趋势产出的契约。
func MarketTrendSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"chain", "volume", "volumeChange", "traders", "tradersTrend"},
		Properties: map[string]*jsonschema.Schema{
			"chain":        {Type: "string"},
			"volume":       {Type: "number"},
			"volumeChange": {Type: "number"},
			"traders":      {Type: "integer"},
			"tradersTrend": {Type: "string"},
		},
	}
}

// MarketTrendAgent 查询链级市场分析指标。
type MarketTrendAgent struct {
	client *unleash.Client
}

// NewMarketTrendAgent 创建市场趋势智能体。
func NewMarketTrendAgent(client *unleash.Client) *MarketTrendAgent {
	return &MarketTrendAgent{client: client}
}

func (a *MarketTrendAgent) ID() string { return MarketTrendAgentID }

func (a *MarketTrendAgent) Describe() string {
	return "查询链级市场趋势：成交量、成交量变化与活跃交易者"
}

func (a *MarketTrendAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	chain := resolveChain(in)

	var wire struct {
		Volume        float64     `json:"volume"`
		VolumeChange  float64     `json:"volume_change"`
		Traders       json.Number `json:"traders"`
		TradersChange float64     `json:"traders_change"`
	}
	query := url.Values{}
	query.Set("blockchain", chain)
	if err := a.client.GetOne(ctx, "/market-insights/analytics", query, &wire); err != nil {
		return nil, err
	}

	traders, err := wire.Traders.Int64()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentDataUnavailable, err, "上游交易者数量不可解析")
	}

	trend := "flat"
	switch {
	case wire.TradersChange > 0:
		trend = "up"
	case wire.TradersChange < 0:
		trend = "down"
	}

	report := MarketTrendReport{
		Chain:        chain,
		Volume:       wire.Volume,
		VolumeChange: wire.VolumeChange,
		Traders:      int(traders),
		TradersTrend: trend,
	}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("%s 链市场成交量 %.2f，交易者趋势 %s", chain, report.Volume, trend),
		Component: &agent.Component{
			Type: "market-trend-chart",
			Props: map[string]any{
				"chain":        chain,
				"volume":       report.Volume,
				"volumeChange": report.VolumeChange,
			},
		},
	}, nil
}
