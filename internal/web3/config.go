package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainTypeEVM is the only chain family the ledger adapter speaks.
const ChainTypeEVM = "evm"

// ChainDefinitions is the parsed chain.yaml: named chains, each with its own
// RPC endpoint and automation registry contract.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes one chain endpoint and its automation registry.
type ChainDefinition struct {
	Type             string `yaml:"type"`
	RPCURL           string `yaml:"rpc_url"`
	ChainID          int64  `yaml:"chain_id"`
	RegistryContract string `yaml:"registry_contract"`
	Description      string `yaml:"description"`
}

// LoadChainDefinitions reads chain.yaml. An empty path yields no chains so
// that a single rpc_url in the main config can still be used.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		chain.Type = strings.ToLower(strings.TrimSpace(chain.Type))
		if chain.Type == "" {
			chain.Type = ChainTypeEVM
		}
		chain.RPCURL = strings.TrimSpace(chain.RPCURL)
		chain.RegistryContract = strings.TrimSpace(chain.RegistryContract)
		if err := chain.validate(); err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s 配置无效: %w", name, err)
		}
		defs.Chains[name] = chain
	}
	return defs, nil
}

// Names returns the chain names in a stable order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c ChainDefinition) validate() error {
	if c.Type != ChainTypeEVM {
		return fmt.Errorf("不支持的链类型 %s", c.Type)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("缺少 rpc_url")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain_id 不能为负数")
	}
	// 合约地址可以留空，由全局 registry_contract 补齐。
	if c.RegistryContract != "" && !common.IsHexAddress(c.RegistryContract) {
		return fmt.Errorf("registry_contract %s 不是合法地址", c.RegistryContract)
	}
	return nil
}
