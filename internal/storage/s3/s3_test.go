package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagehq/brail/internal/storage"
)

type fakeAPI struct {
	objects map[string][]byte
	puts    []*awss3.PutObjectInput
	copies  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &awss3.PutObjectOutput{ETag: aws.String(`"etag-` + aws.ToString(in.Key) + `"`)}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), ETag: aws.String(`"abc"`)}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	out := &awss3.ListObjectsV2Output{}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	f.copies = append(f.copies, aws.ToString(in.CopySource))
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	data, ok := f.objects[strings.ReplaceAll(src, "%20", " ")]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = data
	return &awss3.CopyObjectOutput{}, nil
}

func TestCopyIsServerSide(t *testing.T) {
	api := newFakeAPI()
	api.objects["releases/r1/my file.html"] = []byte("hi")
	g := New(api, "bucket")

	require.NoError(t, g.Copy(context.Background(), "releases/r1/my file.html", "live/my file.html"))
	assert.Equal(t, []string{"bucket/releases/r1/my%20file.html"}, api.copies)
	assert.Equal(t, []byte("hi"), api.objects["live/my file.html"])

	err := g.Copy(context.Background(), "missing", "live/x")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutSetsImmutableCacheControl(t *testing.T) {
	api := newFakeAPI()
	g := New(api, "bucket")

	info, err := g.Put(context.Background(), "deploys/d1/app.js", strings.NewReader("js"), -1, storage.PutOptions{Immutable: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Size)
	assert.Equal(t, "etag-deploys/d1/app.js", info.ETag)
	require.Len(t, api.puts, 1)
	assert.Equal(t, storage.CacheImmutable, aws.ToString(api.puts[0].CacheControl))
	assert.Equal(t, int64(2), aws.ToInt64(api.puts[0].ContentLength))
}

func TestMissingObjectsMapToNotFound(t *testing.T) {
	g := New(newFakeAPI(), "bucket")

	_, _, err := g.GetStream(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = g.Head(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHeadTrimsETagQuotes(t *testing.T) {
	api := newFakeAPI()
	api.objects["k"] = []byte("abc")
	info, err := New(api, "bucket").Head(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", info.ETag)
	assert.Equal(t, uint64(3), info.Size)
}

func TestListPrefix(t *testing.T) {
	api := newFakeAPI()
	api.objects["deploys/d1/a"] = []byte("1")
	api.objects["deploys/d2/a"] = []byte("22")
	objects, err := New(api, "bucket").ListPrefix(context.Background(), "deploys/d1/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "deploys/d1/a", objects[0].Key)
}
