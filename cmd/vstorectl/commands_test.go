package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VSTORE_DATABASE_URL", filepath.Join(dir, "vstore.db"))
	t.Setenv("VSTORE_STORAGE_URL", "file://"+filepath.Join(dir, "blobs"))
}

func TestTemplateImport(t *testing.T) {
	sqliteEnv(t)
	path := filepath.Join(t.TempDir(), "banner.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "id": 4100,
  "author": "importer",
  "elements": [
    {"type": "plainText", "templateCode": 1,
     "constraints": {"unspecified": {"text": {"isMandatory": true, "maxSymbols": 50}}}}
  ]
}`), 0o644))

	out, err := run(t, "template", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "template 4100 created")

	again, err := run(t, "template", "import", path)
	require.NoError(t, err, "re-importing appends a version")
	assert.Contains(t, again, "template 4100 created")
	assert.NotEqual(t, out, again)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"author":"importer","elements":[{"type":"plainText","templateCode":0}]}`), 0o644))
	_, err = run(t, "template", "import", bad)
	assert.Error(t, err)

	_, err = run(t, "template", "import", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read template file")
}

func TestMigrateStatus(t *testing.T) {
	sqliteEnv(t)

	out, err := run(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: 3")

	out, err = run(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: 3")
}

func TestMigrateMemory(t *testing.T) {
	t.Setenv("VSTORE_DATABASE_URL", "memory")
	_, err := run(t, "migrate", "up")
	assert.ErrorContains(t, err, "no schema to migrate")
}

func TestSweep(t *testing.T) {
	sqliteEnv(t)
	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 expired sessions")
}

func TestEnv(t *testing.T) {
	out, err := run(t, "env")
	require.NoError(t, err)
	assert.Contains(t, out, "VSTORE_DATABASE_URL")
	assert.Contains(t, out, "VSTORE_SWEEP_INTERVAL")
}
