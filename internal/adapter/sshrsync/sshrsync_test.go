package sshrsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
)

type fakeRemote struct {
	commands []string
	stdin    [][]byte
	outputs  map[string]string
	fail     string
	closed   int
}

func (f *fakeRemote) Run(_ context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		f.stdin = append(f.stdin, data)
	}
	if f.fail != "" && strings.Contains(cmd, f.fail) {
		return nil, errors.New("remote failure")
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) Close() error {
	f.closed++
	return nil
}

func newTestAdapter(remote *fakeRemote) *Adapter {
	return New(func(context.Context, Config) (Remote, error) { return remote, nil })
}

func testRuntime() adapter.Runtime {
	return adapter.Runtime{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func validConfig() adapter.Config {
	return adapter.Config{
		"host":     "web1.example.com",
		"user":     "deploy",
		"password": "secret",
		"hostKey":  "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIPlaceholderKeyMaterialForTests",
		"basePath": "/srv/site",
	}
}

func TestValidateConfig(t *testing.T) {
	a := New(nil)
	assert.True(t, a.ValidateConfig(validConfig()).Valid)

	cfg := validConfig()
	delete(cfg, "hostKey")
	v := a.ValidateConfig(cfg)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "hostKey")
	require.ErrorIs(t, v.Err(Name), domain.ErrInvalidConfig)

	cfg = validConfig()
	cfg["basePath"] = "relative/dir"
	assert.False(t, a.ValidateConfig(cfg).Valid)

	cfg = validConfig()
	cfg["healthCheck"] = map[string]any{"timeoutMs": 100}
	assert.False(t, a.ValidateConfig(cfg).Valid)

	cfg = validConfig()
	cfg["healthCheck"] = map[string]any{"canaryUrl": "https://example.com/.brail-canary"}
	v = a.ValidateConfig(cfg)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, adapter.DeployIDPlaceholder)

	cfg["healthCheck"] = map[string]any{"canaryUrl": "https://example.com/releases/{deployId}/.brail-canary"}
	assert.True(t, a.ValidateConfig(cfg).Valid)
}

func TestHealthCheckConfig(t *testing.T) {
	a := New(nil)
	_, ok := a.HealthCheck(validConfig())
	assert.False(t, ok)

	cfg := validConfig()
	cfg["healthCheck"] = map[string]any{"canaryUrl": "https://example.com/releases/{deployId}/.brail-canary", "retries": 2}
	hc, ok := a.HealthCheck(cfg)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/releases/dep-9/.brail-canary", hc.CanaryFor("dep-9"))
	assert.Equal(t, 2, hc.Retries)
}

func TestUploadStreamsTarballWithCanary(t *testing.T) {
	remote := &fakeRemote{}
	a := newTestAdapter(remote)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	res, err := a.Upload(context.Background(), testRuntime(), adapter.UploadInput{DeployID: "dep-1", FilesDir: dir, Config: validConfig()})
	require.NoError(t, err)
	assert.Equal(t, "/srv/site/releases/dep-1", res.DestinationRef)
	require.Len(t, remote.commands, 1)
	assert.Contains(t, remote.commands[0], "tar -xzf - -C '/srv/site/releases/dep-1'")

	canary, err := os.ReadFile(filepath.Join(dir, adapter.CanaryFile))
	require.NoError(t, err)
	assert.Equal(t, "dep-1", string(canary))

	require.Len(t, remote.stdin, 1)
	zr, err := gzip.NewReader(strings.NewReader(string(remote.stdin[0])))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "index.html")
	assert.Contains(t, string(raw), adapter.CanaryFile)
	assert.Equal(t, 1, remote.closed)
}

func TestActivateSwapsSymlink(t *testing.T) {
	remote := &fakeRemote{}
	a := newTestAdapter(remote)

	require.NoError(t, a.Activate(context.Background(), testRuntime(), adapter.ActivateInput{DeployID: "dep-2", Config: validConfig()}))
	require.Len(t, remote.commands, 1)
	cmd := remote.commands[0]
	assert.Contains(t, cmd, "ln -sfn '/srv/site/releases/dep-2' '/srv/site/current.next'")
	assert.Contains(t, cmd, "mv -Tf '/srv/site/current.next' '/srv/site/current'")
}

func TestActivateFailureIsAdapterError(t *testing.T) {
	remote := &fakeRemote{fail: "ln -sfn"}
	a := newTestAdapter(remote)

	err := a.Rollback(context.Background(), testRuntime(), adapter.RollbackInput{ToDeployID: "dep-1", Config: validConfig()})
	require.ErrorIs(t, err, domain.ErrAdapter)

	err = a.Activate(context.Background(), testRuntime(), adapter.ActivateInput{DeployID: "../etc", Config: validConfig()})
	require.ErrorIs(t, err, domain.ErrAdapter)
}

func TestCleanupKeepsActiveAndNewest(t *testing.T) {
	remote := &fakeRemote{outputs: map[string]string{
		"find ": "100 dep-1\n300 dep-3\n200 dep-2\n400 dep-4\n--current--\n/srv/site/releases/dep-1\n",
	}}
	a := newTestAdapter(remote)

	releases, err := a.ListReleases(context.Background(), testRuntime(), validConfig())
	require.NoError(t, err)
	require.Len(t, releases, 4)
	assert.Equal(t, "dep-4", releases[0].ID)
	assert.True(t, releases[3].Active)

	require.NoError(t, a.CleanupOld(context.Background(), testRuntime(), validConfig(), 2))
	last := remote.commands[len(remote.commands)-1]
	assert.Equal(t, "rm -rf '/srv/site/releases/dep-2'", last)
}

func TestDeleteRefusesLiveRelease(t *testing.T) {
	remote := &fakeRemote{outputs: map[string]string{
		"find ": "100 dep-1\n--current--\n/srv/site/releases/dep-1\n",
	}}
	a := newTestAdapter(remote)

	err := a.Delete(context.Background(), testRuntime(), adapter.DeleteInput{DeployID: "dep-1", Config: validConfig()})
	require.ErrorIs(t, err, domain.ErrAdapter)
	for _, cmd := range remote.commands {
		assert.False(t, strings.HasPrefix(cmd, "rm -rf"), "unexpected removal %q", cmd)
	}
}
