package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "absent.toml")))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestExpiryCommand_SkipsHolidays(t *testing.T) {
	// GIVEN: The default holidays (weeks 10 and 11 among them)
	// WHEN: A unit bought in week 10 earns for two weeks
	// THEN: It last earns in week 13

	out := execute(t, "expiry", "10", "2")
	assert.Equal(t, "week 13 (starts 2026-01-12)\n", out)
}

func TestWeekCommand(t *testing.T) {
	assert.Equal(t, "week 1\n", execute(t, "week", "2025-10-20"))
	assert.Equal(t, "week 10 (holiday)\n", execute(t, "week", "2025-12-22"))
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pool.db")
	out := execute(t, "migrate", "--db", db)
	assert.Equal(t, db+": schema version 1\n", out)
}
