package docker

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
)

type fakeEngine struct {
	execs   [][]string
	copies  map[string][]string
	signals []string
	listing string
	failOn  string
}

func (f *fakeEngine) CopyTo(_ context.Context, _ string, dstDir string, tarball io.Reader) error {
	if f.copies == nil {
		f.copies = map[string][]string{}
	}
	tr := tar.NewReader(tarball)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		f.copies[dstDir] = append(f.copies[dstDir], hdr.Name)
	}
}

func (f *fakeEngine) Exec(_ context.Context, _ string, cmd []string) (string, error) {
	f.execs = append(f.execs, cmd)
	joined := strings.Join(cmd, " ")
	if f.failOn != "" && strings.Contains(joined, f.failOn) {
		return "", errors.New("exec failed")
	}
	if strings.Contains(joined, "readlink") {
		return f.listing, nil
	}
	return "", nil
}

func (f *fakeEngine) Signal(_ context.Context, _ string, signal string) error {
	f.signals = append(f.signals, signal)
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func newTestAdapter(engine *fakeEngine) *Adapter {
	return New(func(string) (Engine, error) { return engine, nil })
}

func testRuntime() adapter.Runtime {
	return adapter.Runtime{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func cfg() adapter.Config {
	return adapter.Config{"container": "web", "root": "/usr/share/nginx"}
}

func TestValidateConfig(t *testing.T) {
	a := New(nil)
	assert.True(t, a.ValidateConfig(cfg()).Valid)
	assert.False(t, a.ValidateConfig(adapter.Config{"root": "/x"}).Valid)
	assert.False(t, a.ValidateConfig(adapter.Config{"container": "web", "root": "relative"}).Valid)
}

func TestUploadCopiesTarball(t *testing.T) {
	engine := &fakeEngine{}
	a := newTestAdapter(engine)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	res, err := a.Upload(context.Background(), testRuntime(), adapter.UploadInput{DeployID: "dep-1", FilesDir: dir, Config: cfg()})
	require.NoError(t, err)
	assert.Equal(t, "web:/usr/share/nginx/releases/dep-1", res.DestinationRef)
	assert.Equal(t, []string{"mkdir", "-p", "/usr/share/nginx/releases/dep-1"}, engine.execs[0])
	assert.ElementsMatch(t, []string{adapter.CanaryFile, "index.html"}, engine.copies["/usr/share/nginx/releases/dep-1"])
}

func TestActivateFlipsAndReloads(t *testing.T) {
	engine := &fakeEngine{}
	a := newTestAdapter(engine)

	require.NoError(t, a.Activate(context.Background(), testRuntime(), adapter.ActivateInput{DeployID: "dep-2", Config: cfg()}))
	require.Len(t, engine.execs, 1)
	assert.Contains(t, engine.execs[0][2], `mv -Tf "/usr/share/nginx/current.next" "/usr/share/nginx/current"`)
	assert.Equal(t, []string{"HUP"}, engine.signals)
}

func TestActivateFailureSkipsReload(t *testing.T) {
	engine := &fakeEngine{failOn: "ln -sfn"}
	a := newTestAdapter(engine)

	err := a.Activate(context.Background(), testRuntime(), adapter.ActivateInput{DeployID: "dep-2", Config: cfg()})
	require.ErrorIs(t, err, domain.ErrAdapter)
	assert.Empty(t, engine.signals)
}

func TestListAndCleanup(t *testing.T) {
	engine := &fakeEngine{listing: "100 dep-1\n200 dep-2\n300 dep-3\ncurrent:/usr/share/nginx/releases/dep-1\n"}
	a := newTestAdapter(engine)

	releases, err := a.ListReleases(context.Background(), testRuntime(), cfg())
	require.NoError(t, err)
	require.Len(t, releases, 3)
	assert.Equal(t, "dep-3", releases[0].ID)
	assert.True(t, releases[2].Active)

	require.NoError(t, a.CleanupOld(context.Background(), testRuntime(), cfg(), 1))
	last := engine.execs[len(engine.execs)-1]
	assert.Equal(t, []string{"rm", "-rf", "/usr/share/nginx/releases/dep-2"}, last)

	err = a.Delete(context.Background(), testRuntime(), adapter.DeleteInput{DeployID: "dep-1", Config: cfg()})
	require.ErrorIs(t, err, domain.ErrAdapter)
}
