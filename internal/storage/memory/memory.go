// Package memory is an in-process storage.Gateway with blake3 etags.
package memory

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/kagehq/brail/internal/storage"
)

type object struct {
	data         []byte
	etag         string
	contentType  string
	cacheControl string
}

// Store keeps objects in a map.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

var _ storage.Gateway = (*Store)(nil)

// Put stores body under key. A negative size reads until EOF.
func (s *Store) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	var reader io.Reader = body
	if size >= 0 {
		reader = io.LimitReader(body, size)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return storage.ObjectInfo{}, fmt.Errorf("short body for %s: got %d of %d bytes", key, len(data), size)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}
	obj := object{data: data, etag: Digest(data), contentType: contentType}
	if opts.Immutable {
		obj.cacheControl = storage.CacheImmutable
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return info(key, obj), nil
}

// GetStream returns the object body.
func (s *Store) GetStream(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), info(key, obj), nil
}

// Head returns object metadata.
func (s *Store) Head(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return storage.ObjectInfo{}, storage.ErrNotFound
	}
	return info(key, obj), nil
}

// ListPrefix returns every object under prefix ordered by key.
func (s *Store) ListPrefix(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	out := make([]storage.ObjectInfo, 0)
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info(key, obj))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Digest is the etag of data: a hex blake3 sum truncated to 128 bits.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func info(key string, obj object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         uint64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		CacheControl: obj.cacheControl,
	}
}
