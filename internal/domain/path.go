package domain

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath cleans an absolute site path. It rejects relative paths,
// paths that climb above the root and paths that collapse to the root.
func NormalizePath(raw string) (string, error) {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: %q must start with /", ErrInvalidPath, raw)
	}
	if strings.ContainsRune(raw, 0) || strings.Contains(raw, "\\") {
		return "", fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidPath, raw)
	}
	depth := 0
	for _, segment := range strings.Split(raw, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", fmt.Errorf("%w: %q escapes the site root", ErrInvalidPath, raw)
			}
		default:
			depth++
		}
	}
	cleaned := path.Clean(raw)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %q names the site root", ErrInvalidPath, raw)
	}
	return cleaned, nil
}
