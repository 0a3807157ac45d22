package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, `
role: base
id: RX1A2B3C
rate_limit_s: 2
journal_path: journal.db
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Configuration valid")
	assert.Contains(t, output, "role:            base")
	assert.Contains(t, output, "id:              RX1A2B3C")
	assert.Contains(t, output, "rate_limit_s:    2")
	assert.Contains(t, output, "journal_path:    journal.db")
}

func TestValidateShowsDefaults(t *testing.T) {
	path := writeConfig(t, "")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Configuration valid")
	assert.Contains(t, output, "id:              (derived at boot)")
	assert.Contains(t, output, "rate_limit_s:    5")
	assert.Contains(t, output, "save_interval_s: 300")
	assert.Contains(t, output, "journal_path:    (disabled)")
	assert.Contains(t, output, "radio:           902.5 MHz, 250 kHz, SF7, 5 dBm")
}

func TestValidateJSON(t *testing.T) {
	path := writeConfig(t, `
role: rover
id: TX1A2B3C
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	assert.True(t, gjson.GetBytes(buf.Bytes(), "data.valid").Bool())
	assert.Equal(t, "rover", gjson.GetBytes(buf.Bytes(), "data.config.role").String())
	assert.Equal(t, "TX1A2B3C", gjson.GetBytes(buf.Bytes(), "data.config.id").String())
	assert.Equal(t, int64(5), gjson.GetBytes(buf.Bytes(), "data.config.rate_limit_s").Int())
}

func TestValidateMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config not readable")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E001]")
}

func TestValidateInvalidConfig(t *testing.T) {
	path := writeConfig(t, "rate_limit_s: 0\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "not a valid configuration")
}

func TestValidateInvalidConfigJSON(t *testing.T) {
	path := writeConfig(t, "role: relay\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestValidateMissingConfigFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "config")
}
