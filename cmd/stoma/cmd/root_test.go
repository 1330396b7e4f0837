package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pym-cms/stoma/pkg/version"
)

// writeConfig writes a minimal working config using a temp sqlite catalog
// and a log file inside the temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stoma.yaml")
	content := fmt.Sprintf(`environment: testing
db:
  driver: sqlite
  url: %s
logging:
  level: warn
  file_path: %s
  stderr: false
pipeline:
  lock_path: %s
`,
		filepath.Join(dir, "catalog.db"),
		filepath.Join(dir, "stoma.log"),
		filepath.Join(dir, "stoma.lock"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_VersionFlag(t *testing.T) {
	out, err := runCmd(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "stoma version "+version.Version)
}

func TestVersionCmd_Short(t *testing.T) {
	out, err := runCmd(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := runCmd(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go_version"`)
}

func TestInitDB_RequiresConfig(t *testing.T) {
	_, err := runCmd(t, "initdb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestInitDB_CreatesSchema(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := runCmd(t, "--config", cfgPath, "initdb")
	require.NoError(t, err)

	// Idempotent.
	_, err = runCmd(t, "--config", cfgPath, "initdb")
	require.NoError(t, err)
}

func TestIndex_RequiresStartDir(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := runCmd(t, "--config", cfgPath, "index")
	require.Error(t, err)
}

func TestStatus_EmptyCatalog(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := runCmd(t, "--config", cfgPath, "initdb")
	require.NoError(t, err)

	out, err := runCmd(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "total")
}

func TestRoot_UnknownConfigFileFails(t *testing.T) {
	_, err := runCmd(t, "--config", "/does/not/exist.yaml", "initdb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
