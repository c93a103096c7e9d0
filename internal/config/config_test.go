package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consensus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent":{"pairs":["ETH_USDT"],"expert_profiles":"experts.yaml"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 10, cfg.Agent.HistoryDepth)
	assert.Equal(t, filepath.Join(dir, "experts.yaml"), cfg.Agent.ExpertProfiles)
	assert.Equal(t, 2, cfg.Automation.Steps)
	assert.Equal(t, 3, cfg.Automation.MaxAttempts)
	assert.Equal(t, uint64(100_000), cfg.Automation.BalanceBuffer)
	assert.Equal(t, 3000, cfg.Automation.SettleDelayMillis)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, []string{"nonce too low", "sequence number too old"}, cfg.Web3.ConflictPatterns)
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestNegativeSettleDelayDisablesWait(t *testing.T) {
	cfg := &Config{Automation: AutomationConfig{SettleDelayMillis: -1}}
	cfg.applyDefaults(".")
	assert.Equal(t, 0, cfg.Automation.SettleDelayMillis)
}

func TestLoadEnvSeedsSecrets(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CONSENSUS_TEST_KEY=abc123\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CONSENSUS_TEST_KEY") })

	require.NoError(t, LoadEnv(envPath, filepath.Join(dir, "missing.env")))

	openai := OpenAIConfig{APIKeyEnv: "CONSENSUS_TEST_KEY"}
	assert.Equal(t, "abc123", openai.ResolveAPIKey())

	openai.APIKey = " explicit "
	assert.Equal(t, "explicit", openai.ResolveAPIKey())
}

func TestDefaultPathHonoursEnv(t *testing.T) {
	t.Setenv("CONSENSUS_CONFIG", "/etc/consensus.json")
	assert.Equal(t, "/etc/consensus.json", DefaultPath())
}
