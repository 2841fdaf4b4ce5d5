package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.toml")
	contents := `
max_value = 600

[[transactions]]
op = "add"
amount = 400

[[transactions]]
op = "add"
amount = 575
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	s, err := loadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), s.MaxValue)
	require.Len(t, s.Transactions, 2)
	assert.Equal(t, "add", s.Transactions[0].Op)
	assert.Equal(t, uint64(400), s.Transactions[0].Amount)
	assert.Equal(t, uint64(575), s.Transactions[1].Amount)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := loadScenario(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
