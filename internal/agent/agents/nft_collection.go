package agents

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	"defiseek/internal/unleash"
)

// NFTCollectionAgentID 是 NFT 集合智能体的注册标识。
const NFTCollectionAgentID = "nftCollectionAgent"

// NFTCollectionReport 是 NFT 集合分析的结构化产出。
type NFTCollectionReport struct {
	Chain           string  `json:"chain"`
	ContractAddress string  `json:"contractAddress"`
	Name            string  `json:"name"`
	FloorPrice      float64 `json:"floorPrice"`
	Holders         int     `json:"holders"`
	Verified        bool    `json:"verified"`
}

// NFTCollectionSchema 返回 NFT 集合产出的契约。
func NFTCollectionSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"chain", "contractAddress", "name", "floorPrice", "holders", "verified"},
		Properties: map[string]*jsonschema.Schema{
			"chain":           {Type: "string"},
			"contractAddress": {Type: "string"},
			"name":            {Type: "string"},
			"floorPrice":      {Type: "number"},
			"holders":         {Type: "integer"},
			"verified":        {Type: "boolean"},
		},
	}
}

// NFTCollectionAgent 查询 NFT 集合的元数据与关键指标。
type NFTCollectionAgent struct {
	client *unleash.Client
}

// NewNFTCollectionAgent 创建 NFT 集合智能体。
func NewNFTCollectionAgent(client *unleash.Client) *NFTCollectionAgent {
	return &NFTCollectionAgent{client: client}
}

func (a *NFTCollectionAgent) ID() string { return NFTCollectionAgentID }

func (a *NFTCollectionAgent) Describe() string {
	return "查询 NFT 集合的名称、地板价、持有人数与认证状态"
}

func (a *NFTCollectionAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	address, err := extractAddress(in)
	if err != nil {
		return nil, err
	}
	chain := resolveChain(in)

	var wire struct {
		Name       string  `json:"name"`
		FloorPrice float64 `json:"floor_price"`
		Holders    int     `json:"holders"`
		Verified   bool    `json:"verified"`
	}
	query := url.Values{}
	query.Set("contract_address", address)
	query.Set("blockchain", chain)
	if err := a.client.GetOne(ctx, "/nft/collection/metadata", query, &wire); err != nil {
		return nil, err
	}

	report := NFTCollectionReport{
		Chain:           chain,
		ContractAddress: address,
		Name:            wire.Name,
		FloorPrice:      wire.FloorPrice,
		Holders:         wire.Holders,
		Verified:        wire.Verified,
	}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("NFT 集合 %s 地板价 %.4f，持有人 %d", report.Name, report.FloorPrice, report.Holders),
		Component: &agent.Component{
			Type: "nft-collection-card",
			Props: map[string]any{
				"name":       report.Name,
				"floorPrice": report.FloorPrice,
				"holders":    report.Holders,
				"verified":   report.Verified,
			},
		},
	}, nil
}
