package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"reduce", "batch", "match", "bins", "history"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vulcan-reduce", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestReduceCommand_ManualShorthands(t *testing.T) {
	for short, long := range map[string]string{
		"i": "input", "o": "output", "l": "log-dir", "g": "gsas-dir", "G": "gsas2-dir",
		"r": "record", "R": "record2", "f": "focus-file", "c": "charact-file", "b": "bin-file", "d": "dry",
	} {
		flag := reduceCmd.Flags().ShorthandLookup(short)
		require.NotNil(t, flag, "reduce should have -%s", short)
		assert.Equal(t, long, flag.Name)
	}
	assert.NotNil(t, reduceCmd.Flags().Lookup("dryrun"))
	assert.NotNil(t, reduceCmd.Flags().Lookup("log"))
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, batchCmd.Flags().Lookup("output"))
	assert.NotNil(t, batchCmd.Flags().Lookup("retry-failed"))
	assert.NotNil(t, batchCmd.Flags().Lookup("include-permanent"))
}

func TestBatchCommand_Args(t *testing.T) {
	t.Cleanup(func() { batchRetryFailed = false })

	assert.Error(t, batchCmd.Args(batchCmd, nil))
	assert.NoError(t, batchCmd.Args(batchCmd, []string{"runs.txt"}))

	batchRetryFailed = true
	assert.NoError(t, batchCmd.Args(batchCmd, nil))
	assert.Error(t, batchCmd.Args(batchCmd, []string{"runs.txt"}))
}

func TestHistoryCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range historyCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := historyListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
