package httpx

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kagehq/brail/internal/domain"
)

func (r *Router) handleSitePath(w http.ResponseWriter, req *http.Request) {
	r.serve(w, req, req.PathValue("siteId"), "/"+req.PathValue("path"))
}

// handleHost serves <siteId><suffix> hosts on the public listener.
func (r *Router) handleHost(w http.ResponseWriter, req *http.Request) {
	siteID, ok := siteFromHost(req.Host, r.opts.PublicDomainSuffix)
	if !ok {
		notFound(w)
		return
	}
	r.serve(w, req, siteID, req.URL.Path)
}

func siteFromHost(host, suffix string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	suffix = strings.ToLower(suffix)
	if suffix == "" {
		label, _, _ := strings.Cut(host, ".")
		return label, label != ""
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	siteID, found := strings.CutSuffix(host, suffix)
	if !found || siteID == "" || strings.Contains(siteID, ".") {
		return "", false
	}
	return siteID, true
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request, siteID, requestPath string) {
	ctx := req.Context()
	res, err := r.svc.Resolver.Resolve(ctx, siteID, requestPath)
	if err != nil {
		r.publicError(w, err)
		return
	}
	if res.Redirect != nil {
		http.Redirect(w, req, res.Redirect.Location, res.Redirect.Status)
		return
	}

	body, info, err := r.svc.Resolver.Open(ctx, res)
	if err != nil {
		r.publicError(w, err)
		return
	}
	defer body.Close()

	headers := w.Header()
	for k, v := range res.Headers {
		headers.Set(k, v)
	}
	headers.Set("Content-Type", info.ContentType)
	if info.ETag != "" {
		etag := quoteETag(info.ETag)
		headers.Set("ETag", etag)
		if match := req.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if info.Size > 0 {
		headers.Set("Content-Length", strconv.FormatUint(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		r.logger.Debug("public response interrupted", "site_id", siteID, "path", requestPath, "error", err)
	}
}

// publicError answers every public failure with the same 404 body.
func (r *Router) publicError(w http.ResponseWriter, err error) {
	var miss *domain.ResolutionError
	if !errors.As(err, &miss) && !errors.Is(err, domain.ErrInvalidPath) && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Error("public serve failed", "error", err)
	}
	notFound(w)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return strconv.Quote(etag)
}

func etagMatches(header, etag string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}
