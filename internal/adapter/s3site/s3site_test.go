package s3site

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
	"github.com/kagehq/brail/internal/storage"
	memstore "github.com/kagehq/brail/internal/storage/memory"
)

func newTestAdapter(bucket *memstore.Store) *Adapter {
	a := New(func(context.Context, Config) (storage.Gateway, error) { return bucket, nil })
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return a
}

func testRuntime() adapter.Runtime {
	return adapter.Runtime{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func cfg() adapter.Config {
	return adapter.Config{"bucket": "site", "prefix": "docs"}
}

func stage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func upload(t *testing.T, a *Adapter, id string, files map[string]string) {
	t.Helper()
	_, err := a.Upload(context.Background(), testRuntime(), adapter.UploadInput{DeployID: id, FilesDir: stage(t, files), Config: cfg()})
	require.NoError(t, err)
}

func keys(t *testing.T, bucket *memstore.Store, prefix string) []string {
	t.Helper()
	objects, err := bucket.ListPrefix(context.Background(), prefix)
	require.NoError(t, err)
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj.Key)
	}
	return out
}

func TestValidateConfig(t *testing.T) {
	a := New(nil)
	assert.True(t, a.ValidateConfig(cfg()).Valid)
	assert.False(t, a.ValidateConfig(adapter.Config{}).Valid)
	assert.False(t, a.ValidateConfig(adapter.Config{"bucket": "b", "accessKeyId": "only-half"}).Valid)
}

func TestUploadWritesReleasePrefix(t *testing.T) {
	bucket := memstore.New()
	a := newTestAdapter(bucket)

	res, err := a.Upload(context.Background(), testRuntime(), adapter.UploadInput{
		DeployID: "dep-1",
		FilesDir: stage(t, map[string]string{"index.html": "home", "css/a.css": "a"}),
		Config:   cfg(),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://site/docs/releases/dep-1/", res.DestinationRef)
	assert.Equal(t, []string{
		"docs/releases/dep-1/" + adapter.CanaryFile,
		"docs/releases/dep-1/css/a.css",
		"docs/releases/dep-1/index.html",
	}, keys(t, bucket, "docs/releases/"))

	info, err := bucket.Head(context.Background(), "docs/releases/dep-1/css/a.css")
	require.NoError(t, err)
	assert.Contains(t, info.ContentType, "text/css")
}

func TestActivateMirrorsReleaseIntoLive(t *testing.T) {
	bucket := memstore.New()
	a := newTestAdapter(bucket)
	ctx := context.Background()
	upload(t, a, "dep-1", map[string]string{"index.html": "v1", "old.html": "gone soon"})
	upload(t, a, "dep-2", map[string]string{"index.html": "v2"})

	require.NoError(t, a.Activate(ctx, testRuntime(), adapter.ActivateInput{DeployID: "dep-1", Config: cfg()}))
	assert.Contains(t, keys(t, bucket, "docs/live/"), "docs/live/old.html")

	require.NoError(t, a.Activate(ctx, testRuntime(), adapter.ActivateInput{DeployID: "dep-2", Config: cfg()}))
	assert.Equal(t, []string{"docs/live/" + adapter.CanaryFile, "docs/live/index.html"}, keys(t, bucket, "docs/live/"))

	var current pointer
	require.NoError(t, storage.GetJSON(ctx, bucket, "docs/current.json", &current))
	assert.Equal(t, "dep-2", current.DeployID)

	require.NoError(t, a.Rollback(ctx, testRuntime(), adapter.RollbackInput{ToDeployID: "dep-1", Config: cfg()}))
	body, _, err := bucket.GetStream(ctx, "docs/live/index.html")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "v1", string(data))
}

func TestActivateUnknownReleaseFails(t *testing.T) {
	a := newTestAdapter(memstore.New())
	err := a.Activate(context.Background(), testRuntime(), adapter.ActivateInput{DeployID: "nope", Config: cfg()})
	require.ErrorIs(t, err, domain.ErrAdapter)
}

func TestListCleanupAndDelete(t *testing.T) {
	bucket := memstore.New()
	a := newTestAdapter(bucket)
	ctx := context.Background()
	for _, id := range []string{"dep-1", "dep-2", "dep-3", "dep-4"} {
		upload(t, a, id, map[string]string{"index.html": id})
	}
	require.NoError(t, a.Activate(ctx, testRuntime(), adapter.ActivateInput{DeployID: "dep-1", Config: cfg()}))

	releases, err := a.ListReleases(ctx, testRuntime(), cfg())
	require.NoError(t, err)
	require.Len(t, releases, 4)
	assert.Equal(t, "dep-4", releases[0].ID)
	assert.True(t, releases[3].Active)

	require.NoError(t, a.CleanupOld(ctx, testRuntime(), cfg(), 2))
	releases, err = a.ListReleases(ctx, testRuntime(), cfg())
	require.NoError(t, err)
	ids := make([]string, 0, len(releases))
	for _, r := range releases {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"dep-4", "dep-3", "dep-1"}, ids)
	assert.Empty(t, keys(t, bucket, "docs/releases/dep-2/"))

	err = a.Delete(ctx, testRuntime(), adapter.DeleteInput{DeployID: "dep-1", Config: cfg()})
	require.ErrorIs(t, err, domain.ErrAdapter)

	require.NoError(t, a.Delete(ctx, testRuntime(), adapter.DeleteInput{DeployID: "dep-3", Config: cfg()}))
	assert.Empty(t, keys(t, bucket, "docs/releases/dep-3/"))
}
