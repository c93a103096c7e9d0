package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ConsensusMCP-Chain/internal/config"
	"ConsensusMCP-Chain/internal/web3"
	"ConsensusMCP-Chain/internal/web3/ethereum"
)

// Dialer builds a ledger for one chain definition.
type Dialer func(ctx context.Context, cfg ethereum.Config) (*ethereum.Ledger, error)

// Registry manages a set of ledgers keyed by human readable names.
type Registry struct {
	defaultChain string
	ledgers      map[string]*ethereum.Ledger
}

// NewRegistry loads chain definitions and dials every EVM ledger.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return newRegistry(ctx, cfg, ethereum.Dial)
}

func newRegistry(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	privateKey := cfg.ResolvePrivateKey()

	ledgers := make(map[string]*ethereum.Ledger)
	closeAll := func() {
		for _, l := range ledgers {
			l.Close()
		}
	}
	for _, name := range defs.Names() {
		chain := defs.Chains[name]
		contract := chain.RegistryContract
		if contract == "" {
			contract = cfg.RegistryContract
		}
		ledger, err := dial(ctx, ethereum.Config{
			Name:             name,
			RPCURL:           chain.RPCURL,
			ChainID:          chain.ChainID,
			RegistryContract: contract,
			PrivateKeyHex:    privateKey,
			Notes:            chain.Description,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		ledgers[name] = ledger
	}

	if len(ledgers) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		ledger, err := dial(ctx, ethereum.Config{
			Name:             "default",
			RPCURL:           cfg.RPCURL,
			RegistryContract: cfg.RegistryContract,
			PrivateKeyHex:    privateKey,
		})
		if err != nil {
			return nil, err
		}
		ledgers["default"] = ledger
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(ledgers) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = sortedNames(ledgers)[0]
	}
	if _, ok := ledgers[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, ledgers: ledgers}, nil
}

// Default returns the ledger configured as default chain.
func (r *Registry) Default() (*ethereum.Ledger, error) {
	if r == nil {
		return nil, errors.New("未初始化的链注册表")
	}
	ledger, ok := r.ledgers[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return ledger, nil
}

// Ledger returns the ledger identified by name.
func (r *Registry) Ledger(name string) (*ethereum.Ledger, bool) {
	if r == nil {
		return nil, false
	}
	ledger, ok := r.ledgers[name]
	return ledger, ok
}

// Close releases all ledgers managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, ledger := range r.ledgers {
		if ledger != nil {
			ledger.Close()
		}
		delete(r.ledgers, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.ledgers)
}

func sortedNames(ledgers map[string]*ethereum.Ledger) []string {
	names := make([]string, 0, len(ledgers))
	for name := range ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
