package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadCreditCostHolder_FromFile(t *testing.T) {
	dir := t.TempDir()
	body := `credits:
  defaultCost: 2
  models:
    - id: gpt-4o
      cost: 5
    - id: claude-3.5-sonnet
      cost: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credits.yml"), []byte(body), 0o600))

	holder, err := LoadCreditCostHolder(zap.NewNop(), dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(5), cfg.CostFor("gpt-4o"))
	assert.Equal(t, int64(4), cfg.CostFor("Claude-3.5-Sonnet"))
	assert.Equal(t, int64(2), cfg.CostFor("unknown-model"))
}

func TestLoadCreditCostHolder_MissingFileUsesDefaults(t *testing.T) {
	holder, err := LoadCreditCostHolder(zap.NewNop(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), holder.Get().CostFor("anything"))
}

func TestLoadCreditCostHolder_RejectsInvalidCost(t *testing.T) {
	dir := t.TempDir()
	body := `credits:
  models:
    - id: gpt-4o
      cost: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credits.yml"), []byte(body), 0o600))

	_, err := LoadCreditCostHolder(zap.NewNop(), dir)
	assert.Error(t, err)
}

func TestCreditCostHolder_NilFallsBackToDefault(t *testing.T) {
	var holder *CreditCostHolder
	assert.Equal(t, int64(1), holder.Get().CostFor("gpt-4o"))
}
