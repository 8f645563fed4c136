package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagehq/brail/internal/storage"
)

func TestPutHeadAndStream(t *testing.T) {
	ctx := context.Background()
	s := New()

	info, err := s.Put(ctx, storage.DeployKey("d1", "/index.html"), strings.NewReader("<h1>hi</h1>"), 11, storage.PutOptions{Immutable: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(11), info.Size)
	assert.Equal(t, "text/html; charset=utf-8", info.ContentType)
	assert.Equal(t, storage.CacheImmutable, info.CacheControl)
	assert.Equal(t, Digest([]byte("<h1>hi</h1>")), info.ETag)

	body, streamed, err := s.GetStream(ctx, "deploys/d1/index.html")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
	assert.Equal(t, info.ETag, streamed.ETag)
}

func TestPutRejectsShortBody(t *testing.T) {
	_, err := New().Put(context.Background(), "k", strings.NewReader("abc"), 10, storage.PutOptions{})
	require.Error(t, err)
}

func TestMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Head(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := storage.Exists(ctx, s, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	var v map[string]any
	require.ErrorIs(t, storage.GetJSON(ctx, s, "nope", &v), storage.ErrNotFound)
}

func TestListPrefixIsSortedAndScoped(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, key := range []string{"deploys/d1/b.css", "deploys/d1/a.css", "deploys/d10/x", "sites/s/current.json"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), 1, storage.PutOptions{})
		require.NoError(t, err)
	}

	objects, err := s.ListPrefix(ctx, storage.DeployPrefix("d1"))
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "deploys/d1/a.css", objects[0].Key)
	assert.Equal(t, "deploys/d1/b.css", objects[1].Key)
}

func TestJSONRoundTripThroughGateway(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, storage.PutJSON(ctx, s, storage.CurrentKey("site"), map[string]string{"deployId": "d1"}))

	var got map[string]string
	require.NoError(t, storage.GetJSON(ctx, s, "sites/site/current.json", &got))
	assert.Equal(t, "d1", got["deployId"])
}
