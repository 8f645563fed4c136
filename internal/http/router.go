package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/service/patch"
	"github.com/kagehq/brail/internal/service/profile"
	"github.com/kagehq/brail/internal/service/release"
	"github.com/kagehq/brail/internal/service/resolve"
	"github.com/kagehq/brail/internal/service/site"
)

// Services are the use cases exposed over HTTP.
type Services struct {
	Sites    site.Service
	Deploys  deploy.Service
	Patches  patch.Service
	Releases release.Service
	Profiles profile.Service
	Logs     logs.Service
	Resolver *resolve.Resolver
	Catalog  *adapter.CatalogCache
}

// Options tune the router.
type Options struct {
	JWTSecret          string
	PublicDomainSuffix string
	RateLimitAPI       int
	RateLimitPublic    int
	DBHealth           func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	public   *http.ServeMux
	logger   *slog.Logger
	svc      Services
	metrics  *Metrics
	limiter  RateLimiter
	upgrader websocket.Upgrader
	opts     Options
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	defaultListLimit   = 50
	notFoundBody       = "Not Found"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, metrics *Metrics, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		public:  http.NewServeMux(),
		logger:  logger,
		svc:     svc,
		metrics: metrics,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to the API mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Public returns the host-routed handler for the public listener.
func (r *Router) Public() http.Handler {
	return r.public
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit("/healthz", r.handleHealthz))
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	r.api("POST /sites", r.handleCreateSite)
	r.api("GET /sites/{siteId}", r.handleGetSite)
	r.api("GET /sites/{siteId}/deploys", r.handleListDeploys)
	r.api("POST /sites/{siteId}/deploys", r.handleCreateDeploy)
	r.api("GET /sites/{siteId}/files", r.handleFileTree)
	r.api("GET /sites/{siteId}/patches", r.handleListPatches)
	r.api("POST /sites/{siteId}/patches", r.handleCreatePatch)
	r.api("PUT /sites/{siteId}/patch/file", r.handleReplaceFile)
	r.api("POST /sites/{siteId}/patch/delete", r.handleDeletePaths)
	r.api("POST /sites/{siteId}/rollback", r.handleRollback)
	r.api("GET /sites/{siteId}/releases", r.handleListReleases)
	r.api("GET /sites/{siteId}/platform-releases", r.handlePlatformReleases)
	r.api("GET /sites/{siteId}/profiles", r.handleListProfiles)
	r.api("POST /sites/{siteId}/profiles", r.handleCreateProfile)
	r.api("POST /profiles/{id}/default", r.handleDefaultProfile)
	r.api("DELETE /profiles/{id}", r.handleDeleteProfile)
	r.api("GET /deploys/{id}", r.handleGetDeploy)
	r.api("DELETE /deploys/{id}", r.handleDeleteDeploy)
	r.api("PUT /deploys/{id}/files/{path...}", r.handlePutFile)
	r.api("POST /deploys/{id}/finalize", r.handleFinalize)
	r.api("POST /deploys/{id}/activate", r.handleActivate)
	r.api("POST /deploys/{id}/fail", r.handleFail)
	r.api("POST /deploys/{id}/stage", r.handleStage)
	r.api("POST /deploys/{id}/release", r.handleRelease)
	r.api("GET /deploys/{id}/logs", r.handleDeployLogs)
	r.api("POST /patches/{id}/finalize", r.handleFinalizePatch)
	r.api("POST /patches/{id}/activate", r.handleActivatePatch)
	r.api("DELETE /releases/{id}", r.handleDeleteRelease)
	r.api("GET /adapters", r.handleAdapters)

	const ws = "GET /ws/deploys/{id}/logs"
	r.mux.HandleFunc(ws, r.audit(ws, r.requireAuth(r.withRateLimit(ws, rateLimitWebsocket, rateWindowRealtime, r.streamKey, r.handleLogsWS))))

	const sitePrefix = "GET /_site/{siteId}/{path...}"
	r.mux.HandleFunc("GET /_site/{siteId}", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, req.URL.Path+"/", http.StatusMovedPermanently)
	})
	r.mux.HandleFunc(sitePrefix, r.audit(sitePrefix, r.withRateLimit(sitePrefix, r.opts.RateLimitPublic, rateWindowDefault, sitePathVisitorKey, r.handleSitePath)))

	const host = "GET /"
	r.public.HandleFunc(host, r.audit("host", r.withRateLimit("host", r.opts.RateLimitPublic, rateWindowDefault, r.hostVisitorKey, r.handleHost)))
}

// api registers an authenticated, user rate-limited route.
func (r *Router) api(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, r.requireAuth(r.withRateLimit(pattern, r.opts.RateLimitAPI, rateWindowDefault, r.operatorKey, h))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.opts.DBHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.opts.DBHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleAdapters(w http.ResponseWriter, req *http.Request) {
	catalog, err := r.svc.Catalog.Get(req.Context())
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
			if info.OrgID != "" {
				fields = append(fields, "org_id", info.OrgID)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Debug("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func queryInt(req *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(req.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
