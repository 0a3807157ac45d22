package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeWithTimeout runs cmd until the deadline and fails the test if
// the command outlives it. Run treats the deadline as a clean stop, so
// the returned error is the command's own.
func executeWithTimeout(t *testing.T, cmd *cobra.Command, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(d + 3*time.Second):
		t.Fatal("command did not stop on context timeout")
		return nil
	}
}

func TestRunMissingConfigFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "config")
}

func TestRunNonExistentConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: relay\n"), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunBaseUntilTimeout(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "device.yaml")
	journalPath := filepath.Join(dir, "journal.db")
	yaml := fmt.Sprintf(`role: base
id: RXC0FFEE
peers_path: %s
journal_path: %s
`, filepath.Join(dir, "rovers.json"), journalPath)
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", configPath})

	err := executeWithTimeout(t, cmd, 400*time.Millisecond)
	assert.NoError(t, err, "a context stop is a clean exit")

	output := buf.String()
	assert.Contains(t, output, "Device RXC0FFEE up (base role)")
	assert.Contains(t, output, "Press Ctrl-C to stop.")

	_, statErr := os.Stat(journalPath)
	assert.NoError(t, statErr, "journal should be created at assembly")
}

func TestRunRoverUntilTimeout(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "device.yaml")
	yaml := `role: rover
id: TX0FF1CE
rate_limit_s: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", configPath})

	err := executeWithTimeout(t, cmd, 400*time.Millisecond)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Device TX0FF1CE up (rover role)")
}

func TestRunDerivesIdentity(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "device.yaml")
	yaml := fmt.Sprintf("role: base\npeers_path: %s\n", filepath.Join(dir, "rovers.json"))
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", configPath})

	err := executeWithTimeout(t, cmd, 400*time.Millisecond)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Device RX", "derived id keeps the role prefix")

	seed, readErr := os.ReadFile(filepath.Join(dir, "device.id"))
	require.NoError(t, readErr, "identity seed should be cached next to the config")
	assert.Len(t, bytes.TrimSpace(seed), 6)
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run a device")
	assert.Contains(t, output, "--config")
}
