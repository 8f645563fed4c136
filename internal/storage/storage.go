// Package storage defines the object store contract used by deploys, patches
// and the public resolver, together with the key layout they share.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// CacheImmutable is the Cache-Control value attached to immutable objects.
const CacheImmutable = "public, max-age=31536000, immutable"

// Internal marker objects stored at a deploy root.
const (
	ManifestName = "manifest.json"
	IndexName    = "index.json"
	// DropConfigName is the per-deploy routing/headers config file.
	DropConfigName = "_drop.json"
)

// PutOptions tunes an upload.
type PutOptions struct {
	ContentType string
	Immutable   bool
}

// ObjectInfo is object metadata returned by Head and ListPrefix.
type ObjectInfo struct {
	Key          string
	Size         uint64
	ETag         string
	ContentType  string
	CacheControl string
}

// Gateway is the object store the core depends on.
type Gateway interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Copier is implemented by gateways able to copy objects without
// streaming them through the caller.
type Copier interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Copy duplicates srcKey to dstKey, server side when g supports it.
func Copy(ctx context.Context, g Gateway, srcKey, dstKey string) error {
	if c, ok := g.(Copier); ok {
		return c.Copy(ctx, srcKey, dstKey)
	}
	body, info, err := g.GetStream(ctx, srcKey)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = g.Put(ctx, dstKey, body, int64(info.Size), PutOptions{
		ContentType: info.ContentType,
		Immutable:   info.CacheControl == CacheImmutable,
	})
	return err
}

// PutJSON stores v as an application/json object.
func PutJSON(ctx context.Context, g Gateway, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = g.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), PutOptions{ContentType: "application/json"})
	return err
}

// GetJSON decodes the object at key into v. It returns ErrNotFound when the
// key is absent.
func GetJSON(ctx context.Context, g Gateway, key string, v any) error {
	body, _, err := g.GetStream(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func Exists(ctx context.Context, g Gateway, key string) (bool, error) {
	if _, err := g.Head(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeployPrefix is the key prefix holding every object of a deploy.
func DeployPrefix(deployID string) string {
	return "deploys/" + deployID + "/"
}

// DeployKey maps an absolute site path ("/a/b.css") to its object key.
func DeployKey(deployID, sitePath string) string {
	return DeployPrefix(deployID) + strings.TrimPrefix(sitePath, "/")
}

// ManifestKey is the patch manifest object of a deploy.
func ManifestKey(deployID string) string {
	return DeployPrefix(deployID) + ManifestName
}

// IndexKey is the file index object of a deploy.
func IndexKey(deployID string) string {
	return DeployPrefix(deployID) + IndexName
}

// CurrentKey is the current-pointer object of a site.
func CurrentKey(siteID string) string {
	return "sites/" + siteID + "/current.json"
}

// SitePath converts a key under a deploy prefix back to an absolute site
// path. ok is false when key is outside the prefix.
func SitePath(deployID, key string) (string, bool) {
	prefix := DeployPrefix(deployID)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" {
		return "", false
	}
	return "/" + rel, true
}

// IsInternal reports whether a site path names an internal marker object.
func IsInternal(sitePath string) bool {
	switch strings.TrimPrefix(sitePath, "/") {
	case ManifestName, IndexName:
		return true
	}
	return false
}

// ContentTypeFor guesses a content type from the path extension.
func ContentTypeFor(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
