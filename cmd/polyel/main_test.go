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

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoutesCmd(t *testing.T) {
	file := filepath.Join(t.TempDir(), "polyel.yaml")
	require.NoError(t, os.WriteFile(file, []byte("auth:\n  token_key: k\n"), 0o600))

	out, err := execute(t, "routes", "--config", file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "METHOD"))
	assert.Contains(t, out, "AuthController@login")
	assert.Contains(t, out, "Guest")
	assert.Contains(t, out, "Lockout")

	out, err = execute(t, "routes", "--config", file, "-m", "post")
	require.NoError(t, err)
	assert.NotContains(t, out, "HomeController@index")
	assert.Contains(t, out, "/api/token")
}

func TestRoutesCmd_ConfigError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "polyel.yaml")
	require.NoError(t, os.WriteFile(file, []byte("session:\n  driver: file\n"), 0o600))
	_, err := execute(t, "routes", "--config", file)
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Go version:")
}
