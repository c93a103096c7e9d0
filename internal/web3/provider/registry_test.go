package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsensusMCP-Chain/internal/config"
	"ConsensusMCP-Chain/internal/web3/ethereum"
)

const chainYAML = `chains:
  sepolia:
    rpc_url: https://sepolia.example
    chain_id: 11155111
  holesky:
    rpc_url: https://holesky.example
    registry_contract: "0x00000000000000000000000000000000000000bb"
`

func fakeDial(t *testing.T, seen map[string]ethereum.Config) Dialer {
	return func(_ context.Context, cfg ethereum.Config) (*ethereum.Ledger, error) {
		seen[cfg.Name] = cfg
		return ethereum.NewLedger(nopBackend{}, cfg)
	}
}

func TestRegistryLoadsChains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainYAML), 0o600))
	t.Setenv("TEST_LEDGER_KEY", "")

	seen := map[string]ethereum.Config{}
	reg, err := newRegistry(context.Background(), config.Web3Config{
		ChainConfig:      path,
		RegistryContract: "0x00000000000000000000000000000000000000aa",
		PrivateKeyEnv:    "TEST_LEDGER_KEY",
	}, fakeDial(t, seen))
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{"holesky", "sepolia"}, reg.Chains())
	def, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "holesky", def.Name())

	assert.Equal(t, "0x00000000000000000000000000000000000000aa", seen["sepolia"].RegistryContract)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", seen["holesky"].RegistryContract)
	assert.Equal(t, int64(11155111), seen["sepolia"].ChainID)
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	_, err := newRegistry(context.Background(), config.Web3Config{}, func(context.Context, ethereum.Config) (*ethereum.Ledger, error) {
		return nil, errors.New("should not dial")
	})
	assert.Error(t, err)
}

func TestRegistryUnknownDefault(t *testing.T) {
	seen := map[string]ethereum.Config{}
	_, err := newRegistry(context.Background(), config.Web3Config{
		RPCURL:           "https://rpc.example",
		RegistryContract: "0x00000000000000000000000000000000000000aa",
		DefaultChain:     "mainnet",
	}, fakeDial(t, seen))
	assert.Error(t, err)
}
