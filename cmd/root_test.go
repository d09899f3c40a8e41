package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "onboard", "worker", "serve", "teams", "status", "sweep", "export"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "devlens", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestOnboardCommand_Flags(t *testing.T) {
	for _, name := range []string{"name", "org", "repos"} {
		require.NotNil(t, onboardCmd.Flags().Lookup(name), "onboard command should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestTeamsCommand_Flags(t *testing.T) {
	require.NotNil(t, teamsCmd.Flags().Lookup("status"))
}

func TestExportCommand_Flags(t *testing.T) {
	require.NotNil(t, exportCmd.Flags().Lookup("out"))
	assert.NotNil(t, exportCmd.Args, "export requires a team id argument")
}
