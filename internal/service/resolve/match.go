package resolve

import (
	"path"
	"strings"
)

// matchRule reports whether a site path matches a glob rule and returns the
// portion captured by a trailing wildcard (the :splat value).
//
//   - "/docs/*" matches "/docs/a" but not "/docs/a/b"
//   - "/docs/**" matches "/docs", "/docs/a" and "/docs/a/b"
//   - "**/*.html" matches any html file at any depth
//   - "?" matches one non-slash character
//
// Malformed patterns never match.
func matchRule(pattern, sitePath string) (splat string, ok bool) {
	pattern = strings.TrimPrefix(pattern, "/")
	target := strings.TrimPrefix(sitePath, "/")

	if pattern == "**" {
		return target, true
	}

	if !strings.Contains(pattern, "**") {
		if !matchGlob(pattern, target) {
			return "", false
		}
		if strings.HasSuffix(pattern, "*") {
			return target[strings.LastIndex(target, "/")+1:], true
		}
		return "", true
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if matchGlob(prefix, target) {
			return "", true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(target, "/", depth+1)
		if len(segments) <= depth || !matchGlob(prefix, strings.Join(segments[:depth], "/")) {
			return "", false
		}
		return segments[depth], true
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchGlob(suffix, target) {
			return "", true
		}
		depth := strings.Count(suffix, "/") + 1
		segments := strings.Split(target, "/")
		if len(segments) <= depth {
			return "", false
		}
		return "", matchGlob(suffix, strings.Join(segments[len(segments)-depth:], "/"))
	}

	sep := strings.Index(pattern, "/**/")
	if sep < 0 {
		return "", false
	}
	prefix, suffix := pattern[:sep], pattern[sep+4:]
	if matchGlob(prefix+"/"+suffix, target) {
		return "", true
	}
	prefixDepth := strings.Count(prefix, "/") + 1
	suffixDepth := strings.Count(suffix, "/") + 1
	segments := strings.Split(target, "/")
	if len(segments) < prefixDepth+1+suffixDepth {
		return "", false
	}
	if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) ||
		!matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
		return "", false
	}
	for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
		if segment == "" {
			return "", false
		}
	}
	return "", true
}

func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// expandTarget substitutes :splat in a redirect destination.
func expandTarget(to, splat string) string {
	return strings.ReplaceAll(to, ":splat", splat)
}
