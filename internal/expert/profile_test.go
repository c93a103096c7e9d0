package expert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experts.yaml")
	content := `experts:
  - id: quant
    role: Quant Researcher
    specialty: statistical edges
  - id: flow
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Quant Researcher", profiles[0].Role)
	assert.Equal(t, "flow", profiles[1].Role)
}

func TestLoadProfilesRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experts:\n  - id: a\n  - id: a\n"), 0o600))

	_, err := LoadProfiles(path)
	assert.Error(t, err)
}

func TestLoadProfilesDefaults(t *testing.T) {
	profiles, err := LoadProfiles("")
	require.NoError(t, err)
	assert.Len(t, profiles, 5)
}
