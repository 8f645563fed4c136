// Package s3 implements storage.Gateway on S3-compatible object stores
// (AWS S3, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kagehq/brail/internal/storage"
)

// API is the subset of the S3 client used by the gateway.
type API interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
}

// Options configures the client.
type Options struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Gateway stores objects in one bucket.
type Gateway struct {
	client API
	bucket string
}

var (
	_ storage.Gateway = (*Gateway)(nil)
	_ storage.Copier  = (*Gateway)(nil)
)

// NewClient builds an S3 client from static credentials and an optional
// custom endpoint.
func NewClient(ctx context.Context, opts Options) (*awss3.Client, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// New wraps an S3 API client.
func New(client API, bucket string) *Gateway {
	return &Gateway{client: client, bucket: bucket}
}

// Open builds the client and the gateway in one step.
func Open(ctx context.Context, opts Options) (*Gateway, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket required")
	}
	client, err := NewClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(client, opts.Bucket), nil
}

// Put uploads body. S3 needs a known length, so a negative size buffers the
// body first.
func (g *Gateway) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if size < 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return storage.ObjectInfo{}, fmt.Errorf("read body: %w", err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}
	in := &awss3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}
	var cacheControl string
	if opts.Immutable {
		cacheControl = storage.CacheImmutable
		in.CacheControl = aws.String(cacheControl)
	}
	out, err := g.client.PutObject(ctx, in)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         uint64(size),
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentType:  contentType,
		CacheControl: cacheControl,
	}, nil
}

// GetStream opens the object body.
func (g *Gateway) GetStream(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	out, err := g.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storage.ObjectInfo{}, mapError(key, err)
	}
	return out.Body, storage.ObjectInfo{
		Key:          key,
		Size:         uint64(aws.ToInt64(out.ContentLength)),
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentType:  aws.ToString(out.ContentType),
		CacheControl: aws.ToString(out.CacheControl),
	}, nil
}

// Head returns object metadata.
func (g *Gateway) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	out, err := g.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.ObjectInfo{}, mapError(key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         uint64(aws.ToInt64(out.ContentLength)),
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentType:  aws.ToString(out.ContentType),
		CacheControl: aws.ToString(out.CacheControl),
	}, nil
}

// ListPrefix pages through every object under prefix.
func (g *Gateway) ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	out := make([]storage.ObjectInfo, 0)
	paginator := awss3.NewListObjectsV2Paginator(g.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, storage.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: uint64(aws.ToInt64(obj.Size)),
				ETag: trimETag(aws.ToString(obj.ETag)),
			})
		}
	}
	return out, nil
}

// Delete removes an object. S3 treats missing keys as success.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError(key, err)
	}
	return nil
}

// Copy duplicates an object server side.
func (g *Gateway) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := g.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(g.bucket, srcKey)),
	})
	if err != nil {
		return mapError(srcKey, err)
	}
	return nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func mapError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", key, err)
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
