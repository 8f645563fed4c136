package release

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/storage"
)

// Workspace owns per-release scratch directories under a common root.
type Workspace struct {
	root string
}

// NewWorkspace ensures the scratch root exists.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("scratch root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Prepare creates an empty directory for identifier, replacing any leftover.
func (w *Workspace) Prepare(identifier string) (string, error) {
	if identifier == "" || strings.ContainsAny(identifier, `/\`) || identifier == ".." {
		return "", fmt.Errorf("invalid scratch identifier %q", identifier)
	}
	dir := filepath.Join(w.root, identifier)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup scratch dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a directory created by Prepare.
func (w *Workspace) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(w.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside scratch root", dir)
	}
	return os.RemoveAll(dir)
}

// Download materialises every file of deployID into dir. Entries of a patch
// index are read from the deploy named by their source.
func Download(ctx context.Context, store storage.Gateway, deployID, dir string) (int, error) {
	entries, found, err := storage.LoadIndex(ctx, store, deployID)
	if err != nil {
		return 0, fmt.Errorf("load index: %w", err)
	}
	if !found {
		if entries, err = storage.ListDeployFiles(ctx, store, deployID); err != nil {
			return 0, err
		}
	}
	for _, entry := range entries {
		if err := downloadFile(ctx, store, entry.SourceOr(deployID), entry.Path, dir); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func downloadFile(ctx context.Context, store storage.Gateway, sourceID, sitePath, dir string) error {
	cleaned, err := domain.NormalizePath(sitePath)
	if err != nil {
		return err
	}
	body, _, err := store.GetStream(ctx, storage.DeployKey(sourceID, cleaned))
	if err != nil {
		return fmt.Errorf("fetch %s from %s: %w", cleaned, sourceID, err)
	}
	defer body.Close()

	target := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}
