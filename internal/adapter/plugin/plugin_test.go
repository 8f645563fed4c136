package plugin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
)

const echoScript = `#!/bin/sh
read -r req
case "$req" in
  *'"op":"validate"'*)
    case "$req" in
      *'"bucket"'*) echo '{"ok":true}' ;;
      *) echo '{"ok":false,"reason":"bucket is required"}' ;;
    esac ;;
  *'"op":"upload"'*) echo "{\"ok\":true,\"destinationRef\":\"plug://$PLUGIN_REGION\",\"platformDeploymentId\":\"p-1\"}" ;;
  *'"op":"list"'*) echo '{"ok":true,"releases":[{"id":"dep-1","active":true}]}' ;;
  *'"op":"activate"'*) echo '{"ok":false,"error":"quota exceeded"}' ;;
  *) echo 'not json' ;;
esac
`

func writePlugin(t *testing.T, dir, name, script string, timeout string) {
	t.Helper()
	scriptPath := filepath.Join(dir, name+".sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	yamlDoc := "name: " + name + "\n" +
		"description: test plugin\n" +
		"command: /bin/sh\n" +
		"args: [" + scriptPath + "]\n" +
		"env: [PLUGIN_REGION]\n"
	if timeout != "" {
		yamlDoc += "timeout: " + timeout + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(yamlDoc), 0o644))
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testRuntime() adapter.Runtime { return adapter.Runtime{Logger: logger()} }

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte("name: netlify-lite\ncommand: ./run\ntimeout: 30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, def.Timeout)

	def, err = ParseDefinition([]byte("name: x\ncommand: ./run\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, def.Timeout)

	_, err = ParseDefinition([]byte("name: Bad Name\ncommand: ./run\n"))
	assert.Error(t, err)
	_, err = ParseDefinition([]byte("name: ok\n"))
	assert.Error(t, err)
	_, err = ParseDefinition([]byte("  "))
	assert.Error(t, err)
}

func TestLoadDirMissingAndDuplicates(t *testing.T) {
	defs, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, defs)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: same\ncommand: x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: same\ncommand: y\n"), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, "duplicate adapter same")
}

func TestSourceRunsPluginProcess(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo", echoScript, "")
	t.Setenv("PLUGIN_REGION", "eu")
	t.Setenv("SECRET_TOKEN", "leak")

	src, err := NewSource(dir, logger())
	require.NoError(t, err)
	assert.Equal(t, []adapter.CatalogEntry{{Name: "echo", Kind: adapter.KindCommunity, Description: "test plugin"}}, src.Entries())

	a, ok := src.Lookup("echo")
	require.True(t, ok)
	_, ok = src.Lookup("other")
	assert.False(t, ok)

	assert.True(t, a.ValidateConfig(adapter.Config{"bucket": "b"}).Valid)
	v := a.ValidateConfig(adapter.Config{})
	assert.False(t, v.Valid)
	assert.Equal(t, "bucket is required", v.Reason)

	ctx := context.Background()
	res, err := a.Upload(ctx, testRuntime(), adapter.UploadInput{DeployID: "dep-1", FilesDir: dir, Config: adapter.Config{}})
	require.NoError(t, err)
	assert.Equal(t, "plug://eu", res.DestinationRef)
	assert.Equal(t, "p-1", res.PlatformDeploymentID)

	releases, err := a.ListReleases(ctx, testRuntime(), adapter.Config{})
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.True(t, releases[0].Active)

	err = a.Activate(ctx, testRuntime(), adapter.ActivateInput{DeployID: "dep-1", Config: adapter.Config{}})
	require.ErrorIs(t, err, domain.ErrAdapter)
	assert.ErrorContains(t, err, "quota exceeded")

	err = a.Rollback(ctx, testRuntime(), adapter.RollbackInput{ToDeployID: "dep-1", Config: adapter.Config{}})
	assert.ErrorContains(t, err, "decode response")
}

func TestEnvironmentIsAllowlisted(t *testing.T) {
	t.Setenv("PLUGIN_REGION", "eu")
	t.Setenv("SECRET_TOKEN", "leak")
	a := NewAdapter(Definition{Name: "env", Command: "/bin/true", Env: []string{"PLUGIN_REGION"}}, nil)

	env := a.environ(map[string]string{"DEPLOY_ENV": "prod"})
	assert.Contains(t, env, "PLUGIN_REGION=eu")
	assert.Contains(t, env, "DEPLOY_ENV=prod")
	assert.NotContains(t, env, "SECRET_TOKEN=leak")
}

func TestPluginTimeout(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "slow", "#!/bin/sh\nsleep 5\n", "100ms")
	src, err := NewSource(dir, logger())
	require.NoError(t, err)
	a, _ := src.Lookup("slow")

	start := time.Now()
	_, err = a.ListReleases(context.Background(), testRuntime(), adapter.Config{})
	require.ErrorIs(t, err, domain.ErrAdapter)
	assert.ErrorContains(t, err, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRegistryPrefersBuiltins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo", echoScript, "")
	src, err := NewSource(dir, logger())
	require.NoError(t, err)

	reg := adapter.NewRegistry()
	reg.SetCommunity(src)
	got, err := reg.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name())
}
