package agents

import (
	"defiseek/internal/agent"
	"defiseek/internal/unleash"
	"defiseek/internal/web3/provider"
)

// Deps 汇总内置智能体的外部依赖。
type Deps struct {
	Unleash *unleash.Client
	Chains  *unleash.ChainCache
	Web3    *provider.Registry
	// MockWalletRisk 为 true 时装配确定性模拟版钱包风险智能体，
	// 仅用于演示与测试环境，需在配置中显式开启。
	MockWalletRisk bool
}

// RegisterDefaults 按固定顺序注册全部内置智能体。
func RegisterDefaults(reg *agent.Registry, deps Deps) error {
	var walletRisk agent.Agent
	if deps.MockWalletRisk {
		walletRisk = NewMockWalletRiskAgent()
	} else {
		walletRisk = NewWalletRiskAgent(deps.Unleash)
	}
	if err := reg.Register(walletRisk, WalletRiskSchema()); err != nil {
		return err
	}
	if err := reg.Register(NewMarketTrendAgent(deps.Unleash), MarketTrendSchema()); err != nil {
		return err
	}
	if err := reg.Register(NewNFTCollectionAgent(deps.Unleash), NFTCollectionSchema()); err != nil {
		return err
	}
	if err := reg.Register(NewProtocolMetadataAgent(deps.Unleash), ProtocolMetadataSchema()); err != nil {
		return err
	}
	if err := reg.Register(NewSupportedChainsAgent(deps.Chains), SupportedChainsSchema()); err != nil {
		return err
	}
	if deps.Web3 != nil {
		if err := reg.Register(NewWalletBalanceAgent(deps.Web3), WalletBalanceSchema()); err != nil {
			return err
		}
	}
	return nil
}
