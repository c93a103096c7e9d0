package web3

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChainFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadChainDefinitions(t *testing.T) {
	path := writeChainFile(t, `chains:
  sepolia:
    rpc_url: " https://rpc.sepolia.example "
    chain_id: 11155111
    registry_contract: "0x00000000000000000000000000000000000000aa"
  local:
    type: EVM
    rpc_url: http://127.0.0.1:8545
`)

	defs, err := LoadChainDefinitions(path)
	require.NoError(t, err)
	require.Contains(t, defs.Chains, "sepolia")
	assert.Equal(t, int64(11155111), defs.Chains["sepolia"].ChainID)
	assert.Equal(t, "https://rpc.sepolia.example", defs.Chains["sepolia"].RPCURL)
	assert.Equal(t, ChainTypeEVM, defs.Chains["sepolia"].Type)
	assert.Equal(t, ChainTypeEVM, defs.Chains["local"].Type)
	assert.Equal(t, []string{"local", "sepolia"}, defs.Names())

	empty, err := LoadChainDefinitions(" ")
	require.NoError(t, err)
	assert.Empty(t, empty.Chains)
}

func TestLoadChainDefinitionsRejectsInvalidChains(t *testing.T) {
	cases := map[string]string{
		"unsupported type": "chains:\n  sol:\n    type: solana\n    rpc_url: http://x\n",
		"missing rpc":      "chains:\n  a:\n    chain_id: 1\n",
		"bad contract":     "chains:\n  a:\n    rpc_url: http://x\n    registry_contract: nope\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadChainDefinitions(writeChainFile(t, content))
			assert.Error(t, err)
		})
	}
}
