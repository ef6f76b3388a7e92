package agents

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/jsonschema-go/jsonschema"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/web3/provider"
)

// WalletBalanceAgentID 是钱包余额智能体的注册标识。
const WalletBalanceAgentID = "walletBalanceAgent"

// WalletBalanceReport 是钱包余额查询的结构化产出。
type WalletBalanceReport struct {
	Address          string `json:"address"`
	Chain            string `json:"chain"`
	BalanceWei       string `json:"balanceWei"`
	TransactionCount uint64 `json:"transactionCount"`
}

// WalletBalanceSchema 返回钱包余额产出的契约。
func WalletBalanceSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"address", "chain", "balanceWei", "transactionCount"},
		Properties: map[string]*jsonschema.Schema{
			"address":          {Type: "string"},
			"chain":            {Type: "string"},
			"balanceWei":       {Type: "string"},
			"transactionCount": {Type: "integer"},
		},
	}
}

// WalletBalanceAgent 通过链上 RPC 查询地址的原生余额与交易计数。
type WalletBalanceAgent struct {
	chains *provider.Registry
}

// NewWalletBalanceAgent 创建钱包余额智能体。
func NewWalletBalanceAgent(chains *provider.Registry) *WalletBalanceAgent {
	return &WalletBalanceAgent{chains: chains}
}

func (a *WalletBalanceAgent) ID() string { return WalletBalanceAgentID }

func (a *WalletBalanceAgent) Describe() string {
	return "查询钱包地址的链上原生余额与历史交易数量"
}

func (a *WalletBalanceAgent) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	address, err := extractAddress(in)
	if err != nil {
		return nil, err
	}
	chain := resolveChain(in)

	client, ok := a.chains.Client(chain)
	if !ok {
		client, err = a.chains.DefaultClient()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeAgentDataUnavailable, err, "没有可用的链客户端")
		}
	}

	balance, err := client.NativeBalance(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentTransport, err, "链上余额查询失败")
	}
	nonce, err := client.TransactionCount(ctx, address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentTransport, err, "链上交易计数查询失败")
	}

	if balance == nil {
		balance = big.NewInt(0)
	}
	report := WalletBalanceReport{
		Address:          address,
		Chain:            chain,
		BalanceWei:       balance.String(),
		TransactionCount: nonce,
	}
	return &agent.Output{
		Payload: report,
		Summary: fmt.Sprintf("钱包 %s 余额 %s wei，历史交易 %d 笔", address, report.BalanceWei, nonce),
		Component: &agent.Component{
			Type: "wallet-balance-card",
			Props: map[string]any{
				"address":    address,
				"balanceWei": report.BalanceWei,
				"chain":      chain,
			},
		},
	}, nil
}
