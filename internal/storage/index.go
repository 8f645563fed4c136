package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kagehq/brail/internal/domain"
)

// ListDeployFiles lists the user files physically stored under a deploy,
// skipping internal markers, sorted by path.
func ListDeployFiles(ctx context.Context, g Gateway, deployID string) ([]domain.FileIndexEntry, error) {
	objects, err := g.ListPrefix(ctx, DeployPrefix(deployID))
	if err != nil {
		return nil, fmt.Errorf("list deploy %s: %w", deployID, err)
	}
	entries := make([]domain.FileIndexEntry, 0, len(objects))
	for _, obj := range objects {
		sitePath, ok := SitePath(deployID, obj.Key)
		if !ok || IsInternal(sitePath) {
			continue
		}
		entries = append(entries, domain.FileIndexEntry{Path: sitePath, Size: obj.Size, ETag: obj.ETag})
	}
	SortIndex(entries)
	return entries, nil
}

// SortIndex orders entries by path.
func SortIndex(entries []domain.FileIndexEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// LoadIndex reads a deploy's persisted index. found is false when the deploy
// has none.
func LoadIndex(ctx context.Context, g Gateway, deployID string) (entries []domain.FileIndexEntry, found bool, err error) {
	if err := GetJSON(ctx, g, IndexKey(deployID), &entries); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entries, true, nil
}

// LoadManifest reads a deploy's patch manifest. found is false when absent.
func LoadManifest(ctx context.Context, g Gateway, deployID string) (manifest domain.PatchManifest, found bool, err error) {
	if err := GetJSON(ctx, g, ManifestKey(deployID), &manifest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.PatchManifest{}, false, nil
		}
		return domain.PatchManifest{}, false, err
	}
	return manifest, true, nil
}

// Totals sums an index.
func Totals(entries []domain.FileIndexEntry) (fileCount uint, byteSize uint64) {
	for _, e := range entries {
		fileCount++
		byteSize += e.Size
	}
	return fileCount, byteSize
}
