package agents

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/unleash"
)

// ProtocolMetadataAgentID 是协议元数据智能体的注册标识。
const ProtocolMetadataAgentID = "protocolMetadataAgent"

// ProtocolMetadataReport 是 DeFi 协议元数据的结构化产出。
type ProtocolMetadataReport struct {
	Chain    string `json:"chain"`
	Protocol string `json:"protocol"`
	Category string `json:"category"`
	Website  string `json:"website,omitempty"`
	Audited  bool   `json:"audited"`
}

// ProtocolMetadataSchema 返回协议元数据产出的契约。
func ProtocolMetadataSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"chain", "protocol", "category", "audited"},
		Properties: map[string]*jsonschema.Schema{
			"chain":    {Type: "string"},
			"protocol": {Type: "string"},
			"category": {Type: "string"},
			"website":  {Type: "string"},
			"audited":  {Type: "boolean"},
		},
	}
}

// ProtocolMetadataAgent 查询 DeFi 协议的基础元数据。
type ProtocolMetadataAgent struct {
	client *unleash.Client
}

// NewProtocolMetadataAgent 创建协议元数据智能体。
func NewProtocolMetadataAgent(client *unleash.Client) *ProtocolMetadataAgent {
	return &ProtocolMetadataAgent{client: client}
}

func (a *ProtocolMetadataAgent) ID() string { return ProtocolMetadataAgentID }

func (a *ProtocolMetadataAgent) Describe() string {
	return "查询 DeFi 协议的类别、官网与审计状态"
}

func (a *ProtocolMetadataAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	protocol := strings.TrimSpace(in.Params["protocol"])
	if protocol == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定要查询的协议名称")
	}
	chain := resolveChain(in)

	var wire struct {
		Protocol string `json:"protocol"`
		Category string `json:"category"`
		Website  string `json:"website"`
		Audited  bool   `json:"audited"`
	}
	query := url.Values{}
	query.Set("protocol", strings.ToLower(protocol))
	query.Set("blockchain", chain)
	if err := a.client.GetOne(ctx, "/defi/pool/metadata", query, &wire); err != nil {
		return nil, err
	}

	name := wire.Protocol
	if name == "" {
		name = protocol
	}
	report := ProtocolMetadataReport{
		Chain:    chain,
		Protocol: name,
		Category: wire.Category,
		Website:  wire.Website,
		Audited:  wire.Audited,
	}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("协议 %s（%s）审计状态：%t", report.Protocol, report.Category, report.Audited),
	}, nil
}
