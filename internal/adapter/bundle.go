package adapter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/docker/docker/pkg/archive"
	"github.com/klauspost/compress/gzip"
)

// CanaryFile is written into every release so health checks can confirm
// which deploy a destination is serving.
const CanaryFile = ".brail-canary"

var releaseIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// CheckReleaseID rejects ids that are unsafe to embed in remote paths.
func CheckReleaseID(id string) error {
	if !releaseIDPattern.MatchString(id) {
		return fmt.Errorf("invalid release id %q", id)
	}
	return nil
}

// WriteCanary drops the canary marker into a staged directory.
func WriteCanary(dir, deployID string) error {
	return os.WriteFile(filepath.Join(dir, CanaryFile), []byte(deployID), 0o644)
}

// TarDir streams dir as an uncompressed tar archive.
func TarDir(dir string) (io.ReadCloser, error) {
	rc, err := archive.TarWithOptions(dir, &archive.TarOptions{Compression: archive.Uncompressed})
	if err != nil {
		return nil, fmt.Errorf("tar %s: %w", dir, err)
	}
	return rc, nil
}

// GzipDir streams dir as a tar.gz archive.
func GzipDir(dir string) (io.ReadCloser, error) {
	tarball, err := TarDir(dir)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		defer tarball.Close()
		zw := gzip.NewWriter(pw)
		if _, err := io.Copy(zw, tarball); err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(zw.Close())
	}()
	return pr, nil
}
