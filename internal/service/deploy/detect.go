package deploy

import (
	"path"
	"strings"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/storage"
)

// Framework names reported by detection.
const (
	frameworkNext      = "nextjs"
	frameworkNuxt      = "nuxt"
	frameworkAstro     = "astro"
	frameworkSvelteKit = "sveltekit"
	frameworkGatsby    = "gatsby"
	frameworkVite      = "vite"
	frameworkHugo      = "hugo"
	frameworkStatic    = "static"
)

// detection summarises an index for operator logs. Nothing downstream
// depends on it.
type detection struct {
	Framework    string
	HasIndexHTML bool
	ContentTypes map[string]int
}

func detectFramework(index []domain.FileIndexEntry) detection {
	report := detection{Framework: frameworkStatic, ContentTypes: map[string]int{}}
	has := func(prefix string) bool {
		for _, e := range index {
			if strings.HasPrefix(e.Path, prefix) {
				return true
			}
		}
		return false
	}
	for _, e := range index {
		if e.Path == "/index.html" {
			report.HasIndexHTML = true
		}
		report.ContentTypes[contentClass(e.Path)]++
	}

	switch {
	case has("/_next/"):
		report.Framework = frameworkNext
	case has("/_nuxt/"):
		report.Framework = frameworkNuxt
	case has("/_astro/"):
		report.Framework = frameworkAstro
	case has("/_app/immutable/"):
		report.Framework = frameworkSvelteKit
	case has("/page-data/"):
		report.Framework = frameworkGatsby
	case has("/index.xml") && has("/sitemap.xml"):
		report.Framework = frameworkHugo
	case has("/assets/index-") || has("/vite.svg"):
		report.Framework = frameworkVite
	}
	return report
}

func contentClass(p string) string {
	ct := storage.ContentTypeFor(p)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return "html"
	case strings.HasPrefix(ct, "text/css"):
		return "css"
	case strings.Contains(ct, "javascript"):
		return "js"
	case strings.HasPrefix(ct, "image/"):
		return "image"
	case strings.HasPrefix(ct, "font/") || path.Ext(p) == ".woff2":
		return "font"
	default:
		return "other"
	}
}
