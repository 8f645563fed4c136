package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository/memory"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/service/patch"
	"github.com/kagehq/brail/internal/service/resolve"
	"github.com/kagehq/brail/internal/service/site"
	"github.com/kagehq/brail/internal/storage"
	memstore "github.com/kagehq/brail/internal/storage/memory"
	"github.com/kagehq/brail/internal/ws"
	"github.com/kagehq/brail/pkg/config"
	jwtpkg "github.com/kagehq/brail/pkg/jwt"
)

const (
	testSecret = "router-secret"
	testSuffix = ".brail.test"
)

type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }
func (stubAdapter) ValidateConfig(adapter.Config) adapter.Validation {
	return adapter.Valid()
}
func (stubAdapter) Upload(context.Context, adapter.Runtime, adapter.UploadInput) (adapter.UploadResult, error) {
	return adapter.UploadResult{}, nil
}
func (stubAdapter) Activate(context.Context, adapter.Runtime, adapter.ActivateInput) error {
	return nil
}
func (stubAdapter) Rollback(context.Context, adapter.Runtime, adapter.RollbackInput) error {
	return nil
}
func (stubAdapter) ListReleases(context.Context, adapter.Runtime, adapter.Config) ([]adapter.ReleaseInfo, error) {
	return nil, nil
}
func (stubAdapter) CleanupOld(context.Context, adapter.Runtime, adapter.Config, int) error {
	return nil
}

type testServer struct {
	router  *Router
	token   string
	metrics *Metrics
	reg     *prometheus.Registry
	store   *memstore.Store
}

func setupRouter(t *testing.T, opts Options) testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.New()
	store := memstore.New()
	hub := ws.NewHub(4)
	t.Cleanup(hub.Close)
	logSvc := logs.New(repo, hub, logger)

	cfg := config.BrailConfig{PublicBaseURL: "http://localhost:8080", PublicDomainSuffix: testSuffix}
	deploys := deploy.New(repo, repo, store, logSvc, nil, logger, cfg)
	patches := patch.New(repo, repo, repo, store, deploys, logSvc, nil, logger)

	registry := adapter.NewRegistry(stubAdapter{})
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	opts.JWTSecret = testSecret
	if opts.PublicDomainSuffix == "" {
		opts.PublicDomainSuffix = testSuffix
	}
	router := NewRouter(logger, Services{
		Sites:    site.New(repo, logger),
		Deploys:  deploys,
		Patches:  patches,
		Logs:     logSvc,
		Resolver: resolve.New(store, logger, metrics),
		Catalog:  adapter.NewCatalogCache(time.Minute, registry.Snapshot),
	}, metrics, NewMemoryRateLimiter(), opts)
	t.Cleanup(router.Close)

	token, err := jwtpkg.GenerateToken("user-1", "dev@example.com", "org-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return testServer{router: router, token: token, metrics: metrics, reg: reg, store: store}
}

func (s testServer) do(t *testing.T, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+s.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s testServer) doJSON(t *testing.T, method, target string, payload any, out any) int {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	rr := s.do(t, method, target, body, map[string]string{"Content-Type": "application/json"})
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rr.Body.String())
		}
	}
	return rr.Code
}

// publish creates a site and activates a deploy holding files.
func (s testServer) publish(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	var created domain.Site
	if code := s.doJSON(t, http.MethodPost, "/sites", map[string]string{"name": "docs"}, &created); code != http.StatusCreated {
		t.Fatalf("create site: status %d", code)
	}
	if created.OrgID != "org-1" {
		t.Fatalf("expected org from token, got %q", created.OrgID)
	}
	var result deploy.CreateResult
	if code := s.doJSON(t, http.MethodPost, "/sites/"+created.ID+"/deploys", nil, &result); code != http.StatusCreated {
		t.Fatalf("create deploy: status %d", code)
	}
	deployID := result.Deploy.ID
	for name, content := range files {
		rr := s.do(t, http.MethodPut, "/deploys/"+deployID+"/files/"+name, strings.NewReader(content), map[string]string{"Content-Type": "text/html"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("upload %s: status %d body %s", name, rr.Code, rr.Body.String())
		}
	}
	if code := s.doJSON(t, http.MethodPost, "/deploys/"+deployID+"/finalize", nil, nil); code != http.StatusOK {
		t.Fatalf("finalize: status %d", code)
	}
	var activated deploy.ActivateResult
	if code := s.doJSON(t, http.MethodPost, "/deploys/"+deployID+"/activate", nil, &activated); code != http.StatusOK {
		t.Fatalf("activate: status %d", code)
	}
	if activated.Deploy.Status != domain.DeployActive {
		t.Fatalf("expected active deploy, got %s", activated.Deploy.Status)
	}
	return created.ID, deployID
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv := setupRouter(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/sites/anything", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sites/anything", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
}

func TestDeployFlowServesThroughSitePrefix(t *testing.T) {
	srv := setupRouter(t, Options{})
	siteID, _ := srv.publish(t, map[string]string{
		"index.html":       "<h1>home</h1>",
		"about/index.html": "<h1>about</h1>",
	})

	rr := srv.do(t, http.MethodGet, "/_site/"+siteID+"/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "<h1>home</h1>" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected etag header")
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cache-control header")
	}

	rr = srv.do(t, http.MethodGet, "/_site/"+siteID+"/", nil, map[string]string{"If-None-Match": etag})
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}

	rr = srv.do(t, http.MethodGet, "/_site/"+siteID+"/about/", nil, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "<h1>about</h1>" {
		t.Fatalf("unexpected about response %d %q", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, http.MethodGet, "/_site/"+siteID, nil, nil)
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected redirect to trailing slash, got %d", rr.Code)
	}
}

func TestPublicMissesShareOneBody(t *testing.T) {
	srv := setupRouter(t, Options{})
	siteID, _ := srv.publish(t, map[string]string{"index.html": "ok"})

	for _, target := range []string{
		"/_site/" + siteID + "/missing.html",
		"/_site/unknown-site/",
		"/_site/" + siteID + "/_drop.json",
	} {
		rr := srv.do(t, http.MethodGet, target, nil, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rr.Code)
		}
		if rr.Body.String() != notFoundBody {
			t.Fatalf("%s: unexpected body %q", target, rr.Body.String())
		}
	}
}

func TestPublicHostRouting(t *testing.T) {
	srv := setupRouter(t, Options{})
	siteID, _ := srv.publish(t, map[string]string{"index.html": "hosted"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = siteID + testSuffix + ":8081"
	rr := httptest.NewRecorder()
	srv.router.Public().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "hosted" {
		t.Fatalf("unexpected host response %d %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodHead, "/", nil)
	req.Host = siteID + testSuffix
	rr = httptest.NewRecorder()
	srv.router.Public().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("expected empty HEAD response, got %d %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "example.org"
	rr = httptest.NewRecorder()
	srv.router.Public().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign host, got %d", rr.Code)
	}
}

func TestSiteFromHost(t *testing.T) {
	cases := []struct {
		host, suffix, want string
		ok                 bool
	}{
		{"abc.brail.test", ".brail.test", "abc", true},
		{"ABC.brail.test:443", "brail.test", "abc", true},
		{"a.b.brail.test", ".brail.test", "", false},
		{"brail.test", ".brail.test", "", false},
		{"abc.localhost", "", "abc", true},
	}
	for _, tc := range cases {
		got, ok := siteFromHost(tc.host, tc.suffix)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("siteFromHost(%q, %q) = %q, %v", tc.host, tc.suffix, got, ok)
		}
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	srv := setupRouter(t, Options{})

	rr := srv.do(t, http.MethodGet, "/deploys/missing", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var created domain.Site
	srv.doJSON(t, http.MethodPost, "/sites", map[string]string{"name": "docs"}, &created)
	var result deploy.CreateResult
	srv.doJSON(t, http.MethodPost, "/sites/"+created.ID+"/deploys", nil, &result)

	if code := srv.doJSON(t, http.MethodPost, "/deploys/"+result.Deploy.ID+"/activate", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 activating an unfinalized deploy, got %d", code)
	}
	rr = srv.do(t, http.MethodPut, "/deploys/"+result.Deploy.ID+"/files/manifest.json", strings.NewReader("x"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved path, got %d", rr.Code)
	}
	if code := srv.doJSON(t, http.MethodPost, "/sites", map[string]string{"name": ""}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty site name, got %d", code)
	}
}

func TestPatchRoutes(t *testing.T) {
	srv := setupRouter(t, Options{})
	siteID, baseID := srv.publish(t, map[string]string{"index.html": "v1", "old.html": "old"})

	rr := srv.do(t, http.MethodPut, "/sites/"+siteID+"/patch/file?path=/index.html", strings.NewReader("v2"), map[string]string{"Content-Type": "text/html"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("replace file: status %d body %s", rr.Code, rr.Body.String())
	}
	var replaced patch.ReplaceResult
	if err := json.Unmarshal(rr.Body.Bytes(), &replaced); err != nil {
		t.Fatalf("decode replace: %v", err)
	}
	if replaced.BaseDeployID != baseID {
		t.Fatalf("expected base %s, got %s", baseID, replaced.BaseDeployID)
	}
	if code := srv.doJSON(t, http.MethodPost, "/patches/"+replaced.DeployID+"/finalize", nil, nil); code != http.StatusOK {
		t.Fatalf("finalize patch: status %d", code)
	}
	if code := srv.doJSON(t, http.MethodPost, "/patches/"+replaced.DeployID+"/activate", nil, nil); code != http.StatusOK {
		t.Fatalf("activate patch: status %d", code)
	}
	rr = srv.do(t, http.MethodPut, "/sites/"+siteID+"/patch/file", strings.NewReader("v2"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without path, got %d", rr.Code)
	}
	if code := srv.doJSON(t, http.MethodPost, "/sites/"+siteID+"/patches", map[string]string{"baseDeployId": baseID}, nil); code != http.StatusCreated {
		t.Fatalf("create patch: status %d", code)
	}

	var tree []domain.FileIndexEntry
	if code := srv.doJSON(t, http.MethodGet, "/sites/"+siteID+"/files", nil, &tree); code != http.StatusOK {
		t.Fatalf("file tree: status %d", code)
	}
	if len(tree) == 0 {
		t.Fatalf("expected files in tree")
	}

	rr = srv.do(t, http.MethodGet, "/_site/"+siteID+"/", nil, nil)
	if rr.Body.String() != "v2" {
		t.Fatalf("expected patched index, got %q", rr.Body.String())
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	srv := setupRouter(t, Options{RateLimitAPI: 2})
	var codes []int
	for i := 0; i < 3; i++ {
		rr := srv.do(t, http.MethodGet, "/deploys/missing", nil, nil)
		codes = append(codes, rr.Code)
		if i == 0 && rr.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("unexpected limit header %q", rr.Header().Get("X-RateLimit-Limit"))
		}
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request limited, got %v", codes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupRouter(t, Options{})
	srv.publish(t, map[string]string{"index.html": "ok"})
	srv.do(t, http.MethodGet, "/_site/nope/", nil, nil)

	rr := srv.do(t, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"brail_api_http_requests_total", "brail_public_resolutions_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestHealthzWithoutDatabase(t *testing.T) {
	srv := setupRouter(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	srv = setupRouter(t, Options{DBHealth: func(context.Context) error { return io.ErrUnexpectedEOF }})
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAdaptersCatalog(t *testing.T) {
	srv := setupRouter(t, Options{})
	var catalog adapter.Catalog
	if code := srv.doJSON(t, http.MethodGet, "/adapters", nil, &catalog); code != http.StatusOK {
		t.Fatalf("adapters: status %d", code)
	}
	if len(catalog.Entries) != 1 || catalog.Entries[0].Name != "stub" {
		t.Fatalf("unexpected catalog %+v", catalog.Entries)
	}
}

func TestPublicRateLimitIsPerSite(t *testing.T) {
	srv := setupRouter(t, Options{RateLimitPublic: 1})
	visit := func(target string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		srv.router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := visit("/_site/alpha/"); code != http.StatusNotFound {
		t.Fatalf("first alpha visit: got %d", code)
	}
	if code := visit("/_site/alpha/"); code != http.StatusTooManyRequests {
		t.Fatalf("second alpha visit should be limited, got %d", code)
	}
	if code := visit("/_site/beta/"); code != http.StatusNotFound {
		t.Fatalf("beta has its own budget, got %d", code)
	}
}

func TestRateKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "Docs.brail.test:8080"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	r := &Router{opts: Options{PublicDomainSuffix: testSuffix}}
	if got := r.hostVisitorKey(req); got != "visitor:docs:198.51.100.1" {
		t.Fatalf("unexpected host key %q", got)
	}
	if got := keyScope(rateKey(scopeOperator, "user-1")); got != scopeOperator {
		t.Fatalf("unexpected scope %q", got)
	}
	if got := rateKey(scopeVisitor, "", "1.2.3.4"); got != "visitor:1.2.3.4" {
		t.Fatalf("empty parts should be dropped, got %q", got)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	limiter := newRedisRateLimiter(client, client.Close, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer limiter.Close()
	decision := limiter.Allow("user:1", 1, time.Minute)
	if !decision.allowed {
		t.Fatalf("expected request allowed when redis is unreachable")
	}
}

func TestCorruptPointerServesGenericNotFound(t *testing.T) {
	srv := setupRouter(t, Options{})
	body := "{not json"
	if _, err := srv.store.Put(context.Background(), storage.CurrentKey("site-x"), strings.NewReader(body), int64(len(body)), storage.PutOptions{}); err != nil {
		t.Fatalf("plant pointer: %v", err)
	}

	rr := srv.do(t, http.MethodGet, "/_site/site-x/", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr.Body.String() != notFoundBody {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	metrics := srv.do(t, http.MethodGet, "/metrics", nil, nil).Body.String()
	if !strings.Contains(metrics, `brail_public_resolutions_total{outcome="error"} 1`) {
		t.Fatalf("error outcome not counted:\n%s", metrics)
	}
}
