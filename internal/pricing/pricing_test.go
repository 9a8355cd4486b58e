package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCost(t *testing.T) {
	assert.Equal(t, 0.0, TokenCost(0, 0, 3.0, 15.0))
	assert.InDelta(t, 3.0, TokenCost(1_000_000, 0, 3.0, 15.0), 1e-9)
	assert.InDelta(t, 18.0, TokenCost(1_000_000, 1_000_000, 3.0, 15.0), 1e-9)
	// Negative usage is clamped rather than producing a negative cost.
	assert.Equal(t, 0.0, TokenCost(-5, -5, 3.0, 15.0))
}

func TestTokenCostAdditive(t *testing.T) {
	whole := TokenCost(700_000, 120_000, 0.30, 2.50)
	parts := TokenCost(400_000, 100_000, 0.30, 2.50) + TokenCost(300_000, 20_000, 0.30, 2.50)
	assert.InDelta(t, whole, parts, 1e-9)
}

func TestUnitCost(t *testing.T) {
	assert.Equal(t, 0.0, UnitCost(0, 0.02))
	assert.InDelta(t, 0.02, UnitCost(1_000_000, 0.02), 1e-9)
	assert.InDelta(t, UnitCost(250_000, 0.02)+UnitCost(750_000, 0.02), UnitCost(1_000_000, 0.02), 1e-9)
}

func TestTableUnknownModelIsFree(t *testing.T) {
	table := Default()
	assert.Equal(t, 0.0, table.Cost("no-such/model", 1_000_000, 1_000_000))
}

func TestTableCostIncludesPerImage(t *testing.T) {
	table := Table{Models: map[string]ModelRate{
		"m": {InputPerMTok: 1.0, OutputPerMTok: 2.0, PerImage: 0.001},
	}}
	assert.InDelta(t, 1.0+2.0+0.001, table.Cost("m", 1_000_000, 1_000_000), 1e-9)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := []byte("models:\n  custom/model:\n    input_per_mtok: 0.5\n    output_per_mtok: 1.5\n    per_image: 0.0002\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	table, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+1.5+0.0002, table.Cost("custom/model", 1_000_000, 1_000_000), 1e-9)
	// Defaults survive alongside the loaded entries.
	assert.Greater(t, table.Cost("google/gemini-2.5-flash", 1_000_000, 0), 0.0)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.NotEmpty(t, table.Models)
}
