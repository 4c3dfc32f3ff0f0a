// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGenerateConfigCommand(t *testing.T) {
	tests := []struct {
		name               string
		args               []string
		setupExistingFile  bool
		validateOutput     func(t *testing.T, output string)
		validateConfigFile func(t *testing.T, configPath string)
	}{
		{
			name: "generate_config_default_location",
			args: []string{},
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file created")
				assert.Contains(t, output, filepath.Join("torrentdeck", "config.toml"))
			},
			validateConfigFile: func(t *testing.T, configPath string) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "[backend]")
			},
		},
		{
			name: "generate_config_custom_directory",
			args: []string{"--config-dir", "custom/path"},
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file created")
				assert.Contains(t, output, "custom/path/config.toml")
			},
			validateConfigFile: func(t *testing.T, configPath string) {
				assert.True(t, strings.HasSuffix(configPath, "custom/path/config.toml"))
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "# config.toml")
				assert.Contains(t, string(content), "refreshInterval")
			},
		},
		{
			name: "generate_config_custom_file",
			args: []string{"--config-dir", "custom/myconfig.toml"},
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file created")
				assert.Contains(t, output, "custom/myconfig.toml")
			},
			validateConfigFile: func(t *testing.T, configPath string) {
				assert.Equal(t, "myconfig.toml", filepath.Base(configPath))
				_, err := os.Stat(configPath)
				assert.NoError(t, err)
			},
		},
		{
			name:              "skip_existing_config",
			args:              []string{"--config-dir", "existing/path"},
			setupExistingFile: true,
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file already exists")
				assert.Contains(t, output, "existing/path/config.toml")
			},
			validateConfigFile: func(t *testing.T, configPath string) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Equal(t, "# Existing config content", string(content))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)
			t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

			if tt.setupExistingFile {
				existingPath := filepath.Join(tmpDir, "existing", "path", "config.toml")
				require.NoError(t, os.MkdirAll(filepath.Dir(existingPath), 0755))
				require.NoError(t, os.WriteFile(existingPath, []byte("# Existing config content"), 0644))
			}

			cmd := RunGenerateConfigCommand()
			var output bytes.Buffer
			cmd.SetOut(&output)
			cmd.SetErr(&output)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			tt.validateOutput(t, output.String())

			var expectedConfigPath string
			switch {
			case len(tt.args) >= 2 && strings.HasSuffix(tt.args[1], ".toml"):
				expectedConfigPath = filepath.Join(tmpDir, tt.args[1])
			case len(tt.args) >= 2:
				expectedConfigPath = filepath.Join(tmpDir, tt.args[1], "config.toml")
			default:
				expectedConfigPath = filepath.Join(tmpDir, "xdg", "torrentdeck", "config.toml")
			}

			tt.validateConfigFile(t, expectedConfigPath)
		})
	}
}

func TestGenerateConfigCommandHelp(t *testing.T) {
	cmd := RunGenerateConfigCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	helpOutput := output.String()
	assert.Contains(t, helpOutput, "Generate a default configuration file")
	assert.Contains(t, helpOutput, "--config-dir")
	assert.Contains(t, helpOutput, "OS-specific default location")
}

func TestGenerateConfigCommandValidation(t *testing.T) {
	cmd := RunGenerateConfigCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs([]string{"--config-dir"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag needs an argument")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand("1.2.3")

	for _, name := range []string{
		"serve", "tui", "status", "add", "inspect",
		"pause", "resume", "remove", "reannounce",
		"history", "version", "generate-config",
	} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	var output bytes.Buffer
	root.SetOut(&output)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "1.2.3\n", output.String())
}
